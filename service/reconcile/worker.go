package reconcile

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"PPMall/logger"
	"PPMall/service/stock"
	"PPMall/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Options struct {
	Stream      string
	Group       string
	Consumer    string
	Batch       int64
	Block       time.Duration // <0 不阻塞（单测用）
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	ClaimIdle   time.Duration // pending 超过该时长由本消费者接管
	ClaimEvery  time.Duration
}

func (o *Options) norm() {
	if o.Stream == "" {
		o.Stream = stock.DefaultDeltaStream
	}
	if o.Group == "" {
		o.Group = "reconciler"
	}
	if o.Consumer == "" {
		o.Consumer = "reconciler-1"
	}
	if o.Batch <= 0 {
		o.Batch = 64
	}
	if o.Block == 0 {
		o.Block = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	if o.ClaimIdle <= 0 {
		o.ClaimIdle = 30 * time.Second
	}
	if o.ClaimEvery <= 0 {
		o.ClaimEvery = 15 * time.Second
	}
}

type Stats struct {
	Applied      int64
	Duplicates   int64
	DeadLettered int64
}

// Worker 消费 delta stream，按 op_id 幂等落账；失败退避重试，耗尽后进死信再 ack
type Worker struct {
	rdb    redis.UniversalClient
	ledger Ledger
	dead   DeadLetterSink
	opts   Options
	log    *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	clock  func() time.Time

	applied, duplicates, deadLettered atomic.Int64
}

func NewWorker(rdb redis.UniversalClient, ledger Ledger, dead DeadLetterSink, opts Options) *Worker {
	opts.norm()
	return &Worker{
		rdb:    rdb,
		ledger: ledger,
		dead:   dead,
		opts:   opts,
		log:    logger.With(zap.String("component", "reconcile"), zap.String("consumer", opts.Consumer)),
		sleep:  sleepCtx,
		clock:  time.Now,
	}
}

func (w *Worker) Stats() Stats {
	return Stats{
		Applied:      w.applied.Load(),
		Duplicates:   w.duplicates.Load(),
		DeadLettered: w.deadLettered.Load(),
	}
}

// EnsureGroup 从头建消费组（已存在忽略）
func (w *Worker) EnsureGroup(ctx context.Context) error {
	err := w.rdb.XGroupCreateMkStream(ctx, w.opts.Stream, w.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errs.WrapMsg(err, "create consumer group", "stream", w.opts.Stream, "group", w.opts.Group)
	}
	return nil
}

// Run 阻塞直到 ctx 结束
func (w *Worker) Run(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return err
	}
	w.log.Info("reconcile worker started", zap.String("stream", w.opts.Stream), zap.String("group", w.opts.Group))
	var lastClaim time.Time
	for ctx.Err() == nil {
		if w.clock().Sub(lastClaim) >= w.opts.ClaimEvery {
			if _, err := w.Reclaim(ctx); err != nil && ctx.Err() == nil {
				w.log.Warn("reclaim pending failed", zap.Error(err))
			}
			lastClaim = w.clock()
		}
		if _, err := w.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.Warn("read delta stream failed", zap.Error(err))
			_ = w.sleep(ctx, time.Second)
		}
	}
	w.log.Info("reconcile worker stopped", zap.Any("stats", w.Stats()))
	return nil
}

// ProcessOnce 读一批新消息并处理，返回处理条数
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	streams, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.opts.Group,
		Consumer: w.opts.Consumer,
		Streams:  []string{w.opts.Stream, ">"},
		Count:    w.opts.Batch,
		Block:    w.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			w.handle(ctx, msg)
			n++
		}
	}
	return n, nil
}

// Reclaim 接管其它消费者崩溃后遗留的 pending 消息
func (w *Worker) Reclaim(ctx context.Context) (int, error) {
	start := "0-0"
	n := 0
	for {
		msgs, next, err := w.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   w.opts.Stream,
			Group:    w.opts.Group,
			Consumer: w.opts.Consumer,
			MinIdle:  w.opts.ClaimIdle,
			Start:    start,
			Count:    w.opts.Batch,
		}).Result()
		if err != nil {
			return n, err
		}
		for _, msg := range msgs {
			w.handle(ctx, msg)
			n++
		}
		if next == "0-0" || next == "" || len(msgs) == 0 {
			return n, nil
		}
		start = next
	}
}

func (w *Worker) handle(ctx context.Context, msg redis.XMessage) {
	d, err := stock.DecodeDelta(msg.Values)
	if err != nil {
		// 格式错误重试也没用，直接进死信
		w.deadLetter(ctx, msg, partialDelta(msg), "malformed: "+err.Error(), 0)
		return
	}

	attempts, err := w.applyWithRetry(ctx, d)
	if err == nil {
		w.ack(ctx, msg.ID)
		return
	}
	if ctx.Err() != nil {
		// 关闭中：留在 pending，下次 reclaim 再处理
		return
	}
	w.deadLetter(ctx, msg, d, err.Error(), attempts)
}

func (w *Worker) applyWithRetry(ctx context.Context, d stock.Delta) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		applied, err := w.ledger.ApplyDelta(ctx, d)
		if err == nil {
			if applied {
				w.applied.Add(1)
			} else {
				w.duplicates.Add(1)
				w.log.Debug("duplicate delta skipped", zap.String("op_id", d.OpID))
			}
			return attempt, nil
		}
		lastErr = err
		if errors.Is(err, errs.ErrUnknownSku) {
			return attempt, err
		}
		w.log.Warn("apply delta failed",
			zap.String("op_id", d.OpID), zap.Int64("sku", d.SkuID),
			zap.Int("attempt", attempt), zap.Error(err))
		if attempt == w.opts.MaxAttempts {
			break
		}
		if err := w.sleep(ctx, backoff(w.opts.BaseBackoff, w.opts.MaxBackoff, attempt)); err != nil {
			return attempt, err
		}
	}
	return w.opts.MaxAttempts, lastErr
}

func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, d stock.Delta, reason string, attempts int) {
	if err := w.dead.Put(ctx, newDeadLetter(d, reason, attempts, w.clock())); err != nil {
		// 死信都写不进去就不 ack，保持 pending
		w.log.Error("dead letter write failed, delta left pending",
			zap.String("id", msg.ID), zap.String("op_id", d.OpID), zap.Error(err))
		return
	}
	w.deadLettered.Add(1)
	w.log.Error("delta dead-lettered",
		zap.String("id", msg.ID), zap.String("op_id", d.OpID), zap.Int64("sku", d.SkuID),
		zap.Int("attempts", attempts), zap.String("reason", reason))
	w.ack(ctx, msg.ID)
}

// ack 之后删除，已落账的 delta 不再保留
func (w *Worker) ack(ctx context.Context, id string) {
	_, err := w.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAck(ctx, w.opts.Stream, w.opts.Group, id)
		p.XDel(ctx, w.opts.Stream, id)
		return nil
	})
	if err != nil {
		w.log.Warn("ack delta failed", zap.String("id", id), zap.Error(err))
	}
}

func partialDelta(msg redis.XMessage) stock.Delta {
	opID, _ := msg.Values["op_id"].(string)
	return stock.Delta{OpID: opID}
}

// backoff 指数退避，带一半抖动
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d <= 0 || d > max {
		d = max
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
