package reconcile

import (
	"context"
	"strconv"

	"PPMall/logger"
	"PPMall/service/kafka"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// KafkaDeadLetters 死信落到下层存储后再镜像到 Kafka topic（告警/外部消费）；
// 查看/重放/丢弃都走下层存储
type KafkaDeadLetters struct {
	Producer sarama.SyncProducer
	Topic    string
	Next     DeadLetterStore
}

func (k *KafkaDeadLetters) Put(ctx context.Context, dl DeadLetter) error {
	if err := k.Next.Put(ctx, dl); err != nil {
		return err
	}
	if _, _, err := kafka.SendJSON(k.Producer, k.Topic, strconv.FormatInt(dl.SkuID, 10), dl); err != nil {
		// 镜像失败不影响死信本身
		logger.Warn("mirror dead letter to kafka failed", zap.String("op_id", dl.OpID), zap.Error(err))
	}
	return nil
}

func (k *KafkaDeadLetters) List(ctx context.Context, limit int64) ([]DeadLetter, error) {
	return k.Next.List(ctx, limit)
}

func (k *KafkaDeadLetters) Replay(ctx context.Context, id string) error {
	return k.Next.Replay(ctx, id)
}

func (k *KafkaDeadLetters) Drop(ctx context.Context, id string) error {
	return k.Next.Drop(ctx, id)
}
