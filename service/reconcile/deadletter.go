package reconcile

import (
	"context"
	"strconv"
	"time"

	"PPMall/service/stock"
	"PPMall/tools/decode"
	"PPMall/tools/errs"

	"github.com/redis/go-redis/v9"
)

const DefaultDeadStream = "stock:deltas:dead"

// DeadLetter 重试耗尽的 delta，保留到人工 replay/drop
type DeadLetter struct {
	ID        string    `json:"id"`
	OpID      string    `json:"op_id"`
	SkuID     int64     `json:"sku_id"`
	Quantity  int64     `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
}

func newDeadLetter(d stock.Delta, reason string, attempts int, at time.Time) DeadLetter {
	return DeadLetter{
		OpID:      d.OpID,
		SkuID:     d.SkuID,
		Quantity:  d.Quantity,
		CreatedAt: d.CreatedAt,
		Reason:    reason,
		Attempts:  attempts,
		FailedAt:  at,
	}
}

func (dl DeadLetter) Delta() stock.Delta {
	return stock.Delta{OpID: dl.OpID, SkuID: dl.SkuID, Quantity: dl.Quantity, CreatedAt: dl.CreatedAt}
}

func (dl DeadLetter) values() map[string]any {
	v := dl.Delta().Values()
	v["reason"] = dl.Reason
	v["attempts"] = strconv.Itoa(dl.Attempts)
	v["failed_at"] = strconv.FormatInt(dl.FailedAt.UnixMilli(), 10)
	return v
}

// DeadLetterSink worker 只需要写入
type DeadLetterSink interface {
	Put(ctx context.Context, dl DeadLetter) error
}

// DeadLetterStore 运维侧的查看/重放/丢弃
type DeadLetterStore interface {
	DeadLetterSink
	List(ctx context.Context, limit int64) ([]DeadLetter, error)
	Replay(ctx context.Context, id string) error
	Drop(ctx context.Context, id string) error
}

// RedisDeadLetters 死信存在独立 Stream；replay 写回 delta stream（op_id 不变，账本侧仍幂等）
type RedisDeadLetters struct {
	Rdb         redis.UniversalClient
	Stream      string
	DeltaStream string
}

func NewRedisDeadLetters(rdb redis.UniversalClient) *RedisDeadLetters {
	return &RedisDeadLetters{Rdb: rdb, Stream: DefaultDeadStream, DeltaStream: stock.DefaultDeltaStream}
}

func (s *RedisDeadLetters) Put(ctx context.Context, dl DeadLetter) error {
	err := s.Rdb.XAdd(ctx, &redis.XAddArgs{Stream: s.Stream, Values: dl.values()}).Err()
	if err != nil {
		return errs.WrapMsg(err, "write dead letter", "op_id", dl.OpID)
	}
	return nil
}

func (s *RedisDeadLetters) List(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := s.Rdb.XRangeN(ctx, s.Stream, "-", "+", limit).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "list dead letters")
	}
	out := make([]DeadLetter, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, decodeDeadLetter(m))
	}
	return out, nil
}

func (s *RedisDeadLetters) get(ctx context.Context, id string) (DeadLetter, error) {
	msgs, err := s.Rdb.XRange(ctx, s.Stream, id, id).Result()
	if err != nil {
		return DeadLetter{}, errs.WrapMsg(err, "read dead letter", "id", id)
	}
	if len(msgs) == 0 {
		return DeadLetter{}, errs.ErrRecordNotFound.WrapMsg("dead letter not found", "id", id)
	}
	return decodeDeadLetter(msgs[0]), nil
}

func (s *RedisDeadLetters) Replay(ctx context.Context, id string) error {
	dl, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	d := dl.Delta()
	if d.OpID == "" || d.SkuID <= 0 || d.Quantity == 0 {
		return errs.ErrArgs.WrapMsg("dead letter is not replayable, drop it", "id", id)
	}
	_, err = s.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{Stream: s.DeltaStream, Values: d.Values()})
		p.XDel(ctx, s.Stream, id)
		return nil
	})
	if err != nil {
		return errs.WrapMsg(err, "replay dead letter", "id", id)
	}
	return nil
}

func (s *RedisDeadLetters) Drop(ctx context.Context, id string) error {
	n, err := s.Rdb.XDel(ctx, s.Stream, id).Result()
	if err != nil {
		return errs.WrapMsg(err, "drop dead letter", "id", id)
	}
	if n == 0 {
		return errs.ErrRecordNotFound.WrapMsg("dead letter not found", "id", id)
	}
	return nil
}

// decodeDeadLetter 字段缺失/损坏时尽量保留能读到的部分
func decodeDeadLetter(m redis.XMessage) DeadLetter {
	dl, err := decode.Map[DeadLetter](m.Values)
	if err != nil || dl == nil {
		reason, _ := m.Values["reason"].(string)
		return DeadLetter{ID: m.ID, Reason: reason}
	}
	dl.ID = m.ID
	return *dl
}
