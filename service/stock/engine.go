package stock

import (
	"context"
	"errors"
	"strconv"
	"time"

	"PPMall/logger"
	"PPMall/tools/errs"
	"PPMall/tools/ids"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultDeltaStream = "stock:deltas"

type OutcomeKind int

const (
	Applied OutcomeKind = iota + 1
	InsufficientStock
	UnknownKey
)

func (k OutcomeKind) String() string {
	switch k {
	case Applied:
		return "applied"
	case InsufficientStock:
		return "insufficient_stock"
	case UnknownKey:
		return "unknown_key"
	default:
		return "unknown"
	}
}

// Outcome 一次 reserve 的结果；Count 在成功时为剩余量，不足时为当前量
type Outcome struct {
	Kind  OutcomeKind
	Count int64
	OpID  string
}

type Engine struct {
	Rdb         redis.UniversalClient
	DeltaStream string
	KeyFn       func(skuID int64) string
	Clock       func() time.Time
}

func NewEngine(rdb redis.UniversalClient) *Engine {
	e := &Engine{Rdb: rdb}
	e.ensure()
	return e
}

func defaultKey(skuID int64) string { return "stock:sku:" + strconv.FormatInt(skuID, 10) }

func (e *Engine) ensure() {
	if e.DeltaStream == "" {
		e.DeltaStream = DefaultDeltaStream
	}
	if e.KeyFn == nil {
		e.KeyFn = defaultKey
	}
	if e.Clock == nil {
		e.Clock = time.Now
	}
}

func (e *Engine) Key(skuID int64) string { return e.KeyFn(skuID) }

// Reserve 原子地检查并扣减；成功时同一脚本内追加 delta
func (e *Engine) Reserve(ctx context.Context, skuID, qty int64) (Outcome, error) {
	if skuID <= 0 || qty <= 0 {
		return Outcome{}, errs.ErrArgs.WrapMsg("reserve needs positive sku and qty", "sku", skuID, "qty", qty)
	}
	opID := ids.NewOpID()
	res, err := luaReserve.Run(ctx, e.Rdb,
		[]string{e.KeyFn(skuID), e.DeltaStream},
		qty, opID, skuID, e.Clock().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return Outcome{}, errs.WrapMsg(err, "reserve script", "sku", skuID)
	}
	if len(res) != 2 {
		return Outcome{}, errs.New("unexpected reserve reply", "reply", res)
	}
	switch res[0] {
	case scriptApplied:
		return Outcome{Kind: Applied, Count: res[1], OpID: opID}, nil
	case scriptInsufficient:
		return Outcome{Kind: InsufficientStock, Count: res[1]}, nil
	case scriptUnknownKey:
		return Outcome{Kind: UnknownKey}, nil
	default:
		return Outcome{}, errs.New("unexpected reserve status", "status", res[0])
	}
}

// Restore 回补；计数器已被淘汰时只写 delta 不建 key，之后从账本回填即包含本次回补
func (e *Engine) Restore(ctx context.Context, skuID, qty int64) error {
	missing, err := e.restore(ctx, skuID, qty)
	if err == nil && missing {
		logger.Info("restore recorded to ledger only, counter missing",
			zap.Int64("sku", skuID), zap.Int64("qty", qty))
	}
	return err
}

func (e *Engine) restore(ctx context.Context, skuID, qty int64) (bool, error) {
	if skuID <= 0 || qty <= 0 {
		return false, errs.ErrArgs.WrapMsg("restore needs positive sku and qty", "sku", skuID, "qty", qty)
	}
	res, err := luaRestore.Run(ctx, e.Rdb,
		[]string{e.KeyFn(skuID), e.DeltaStream},
		qty, ids.NewOpID(), skuID, e.Clock().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return false, errs.WrapMsg(err, "restore script", "sku", skuID)
	}
	if len(res) == 0 {
		return false, errs.New("empty restore result", "sku", skuID)
	}
	switch res[0] {
	case scriptApplied:
		return false, nil
	case scriptLedgerOnly:
		return true, nil
	default:
		return false, errs.New("unexpected restore status", "status", res[0])
	}
}

// Seed 用权威账本的值覆盖计数器（上架/运维修复）
func (e *Engine) Seed(ctx context.Context, skuID, units int64) error {
	if skuID <= 0 || units < 0 {
		return errs.ErrArgs.WrapMsg("seed needs positive sku and non-negative units", "sku", skuID, "units", units)
	}
	if err := e.Rdb.Set(ctx, e.KeyFn(skuID), units, 0).Err(); err != nil {
		return errs.WrapMsg(err, "seed counter", "sku", skuID)
	}
	return nil
}

// SeedIfAbsent 仅在 key 不存在时写入，避免覆盖并发扣减后的值
func (e *Engine) SeedIfAbsent(ctx context.Context, skuID, units int64) (bool, error) {
	if skuID <= 0 || units < 0 {
		return false, errs.ErrArgs.WrapMsg("seed needs positive sku and non-negative units", "sku", skuID, "units", units)
	}
	ok, err := e.Rdb.SetNX(ctx, e.KeyFn(skuID), units, 0).Result()
	if err != nil {
		return false, errs.WrapMsg(err, "seed counter if absent", "sku", skuID)
	}
	return ok, nil
}

// Available 读取当前计数；key 不存在返回 ErrUnknownSku
func (e *Engine) Available(ctx context.Context, skuID int64) (int64, error) {
	n, err := e.Rdb.Get(ctx, e.KeyFn(skuID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, errs.ErrUnknownSku.WrapMsg("counter missing", "sku", skuID)
	}
	if err != nil {
		return 0, errs.WrapMsg(err, "read counter", "sku", skuID)
	}
	return n, nil
}
