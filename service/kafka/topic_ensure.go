package kafka

import (
	"errors"

	"PPMall/logger"
	"PPMall/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EnsureTopics 不存在就按配置创建；已存在直接跳过
func EnsureTopics(admin sarama.ClusterAdmin, topics []string, c Config) error {
	for _, t := range topics {
		desc, err := admin.DescribeTopics([]string{t})
		if err == nil && len(desc) == 1 && errors.Is(desc[0].Err, sarama.ErrNoError) {
			logger.Debug("kafka topic exists", zap.String("topic", t), zap.Int("partitions", len(desc[0].Partitions)))
			continue
		}
		td := &sarama.TopicDetail{
			NumPartitions:     c.PartitionsPerTopic,
			ReplicationFactor: c.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr("1"),
				"unclean.leader.election.enable": strPtr("false"),
			},
		}
		if err := admin.CreateTopic(t, td, false); err != nil {
			if errors.Is(err, sarama.ErrTopicAlreadyExists) {
				continue
			}
			var topicErr *sarama.TopicError
			if errors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists {
				continue
			}
			return errs.WrapMsg(err, "create topic", "topic", t)
		}
		logger.Info("kafka topic created", zap.String("topic", t), zap.Int32("partitions", c.PartitionsPerTopic))
	}
	return nil
}

func strPtr(s string) *string { return &s }
