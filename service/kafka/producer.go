package kafka

import (
	"encoding/json"
	"strings"
	"time"

	"PPMall/tools/errs"

	"github.com/Shopify/sarama"
)

func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = c.KafkaVersion

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 1
	}
	cfg.Producer.Retry.Max = c.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区，同一 SKU 落同一分区
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

// NewClient 建立 client；SyncProducer 和 ClusterAdmin 都从它派生
func NewClient(c Config) (sarama.Client, error) {
	if len(c.Brokers) == 0 {
		return nil, errs.ErrArgs.WrapMsg("kafka brokers missing")
	}
	client, err := sarama.NewClient(c.Brokers, BuildBaseConfig(c))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", c.Brokers)
	}
	return client, nil
}

func NewSyncProducer(client sarama.Client) (sarama.SyncProducer, error) {
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka sync producer")
	}
	return p, nil
}

// SendJSON 同步发送一条 JSON 消息
func SendJSON(p sarama.SyncProducer, topic, key string, v any) (partition int32, offset int64, err error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, 0, errs.WrapMsg(err, "marshal kafka payload", "topic", topic)
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(b),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	partition, offset, err = p.SendMessage(msg)
	if err != nil {
		return 0, 0, errs.WrapMsg(err, "kafka send", "topic", topic)
	}
	return partition, offset, nil
}
