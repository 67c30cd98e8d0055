package stock

import (
	"context"
	"errors"

	"PPMall/logger"
	"PPMall/tools/errs"

	"go.uber.org/zap"
)

// LedgerStore 账本读写（运维入口用）
type LedgerStore interface {
	Source
	PutAvailable(ctx context.Context, skuID, units int64) error
}

// View 计数器与账本的对照；Ledger/Counter 为 nil 表示不存在
type View struct {
	SkuID   int64  `json:"sku_id,string"`
	Counter *int64 `json:"counter"`
	Ledger  *int64 `json:"ledger"`
}

// Admin HTTP ops 接口与 CLI 共用
type Admin struct {
	Engine *Engine
	Ledger LedgerStore
}

// Seed units 非 nil 时先写账本再覆盖计数器（上架）；为 nil 时用账本值覆盖计数器（修复）
func (a *Admin) Seed(ctx context.Context, skuID int64, units *int64) (int64, error) {
	if skuID <= 0 {
		return 0, errs.ErrArgs.WrapMsg("invalid sku", "sku", skuID)
	}
	var n int64
	if units != nil {
		if *units < 0 {
			return 0, errs.ErrArgs.WrapMsg("units must be non-negative", "units", *units)
		}
		n = *units
		if err := a.Ledger.PutAvailable(ctx, skuID, n); err != nil {
			return 0, err
		}
	} else {
		var err error
		if n, err = a.Ledger.LoadAvailable(ctx, skuID); err != nil {
			return 0, err
		}
	}
	if err := a.Engine.Seed(ctx, skuID, n); err != nil {
		return 0, err
	}
	logger.Info("stock seeded", zap.Int64("sku", skuID), zap.Int64("units", n), zap.Bool("from_ledger", units == nil))
	return n, nil
}

func (a *Admin) Get(ctx context.Context, skuID int64) (View, error) {
	v := View{SkuID: skuID}
	c, err := a.Engine.Available(ctx, skuID)
	switch {
	case err == nil:
		v.Counter = &c
	case !errors.Is(err, errs.ErrUnknownSku):
		return v, err
	}
	l, err := a.Ledger.LoadAvailable(ctx, skuID)
	switch {
	case err == nil:
		v.Ledger = &l
	case !errors.Is(err, errs.ErrUnknownSku):
		return v, err
	}
	if v.Counter == nil && v.Ledger == nil {
		return v, errs.ErrUnknownSku.WrapMsg("sku not found", "sku", skuID)
	}
	return v, nil
}
