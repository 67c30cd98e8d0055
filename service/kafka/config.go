package kafka

import "github.com/Shopify/sarama"

type Config struct {
	Brokers             []string
	PartitionsPerTopic  int32 // 单机=1；生产按吞吐调整
	ReplicationFactor   int16 // 单机=1；生产=3
	ProducerRetries     int
	ProducerCompression string // none/snappy/lz4/zstd
	KafkaVersion        sarama.KafkaVersion
}

// DefaultConfig 单机演示默认值
func DefaultConfig(brokers []string) Config {
	return Config{
		Brokers:             brokers,
		PartitionsPerTopic:  3,
		ReplicationFactor:   1,
		ProducerRetries:     5,
		ProducerCompression: "snappy",
		KafkaVersion:        sarama.V2_1_0_0,
	}
}
