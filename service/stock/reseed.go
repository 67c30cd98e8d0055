package stock

import (
	"context"
	"sync"
	"time"

	"PPMall/logger"
	"PPMall/tools/safe"

	"go.uber.org/zap"
)

// Source 权威库存来源（关系库账本）
type Source interface {
	LoadAvailable(ctx context.Context, skuID int64) (int64, error)
}

// Reseeder 计数器丢失后从账本异步回填；同一 SKU 同时只跑一个
type Reseeder struct {
	engine  *Engine
	src     Source
	timeout time.Duration
	log     *zap.Logger

	mu       sync.Mutex
	inflight map[int64]struct{}
}

func NewReseeder(engine *Engine, src Source) *Reseeder {
	return &Reseeder{
		engine:   engine,
		src:      src,
		timeout:  5 * time.Second,
		log:      logger.With(zap.String("component", "stock.reseed")),
		inflight: make(map[int64]struct{}),
	}
}

// Trigger 后台回填；已有进行中的回填时返回 false
func (r *Reseeder) Trigger(skuID int64) bool {
	r.mu.Lock()
	if _, ok := r.inflight[skuID]; ok {
		r.mu.Unlock()
		return false
	}
	r.inflight[skuID] = struct{}{}
	r.mu.Unlock()

	safe.Go("stock.reseed", func() {
		defer func() {
			r.mu.Lock()
			delete(r.inflight, skuID)
			r.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if _, err := r.Reseed(ctx, skuID); err != nil {
			r.log.Warn("reseed failed", zap.Int64("sku", skuID), zap.Error(err))
		}
	})
	return true
}

// Reseed 同步回填；key 已被别人写入时返回 false
func (r *Reseeder) Reseed(ctx context.Context, skuID int64) (bool, error) {
	units, err := r.src.LoadAvailable(ctx, skuID)
	if err != nil {
		return false, err
	}
	ok, err := r.engine.SeedIfAbsent(ctx, skuID, units)
	if err != nil {
		return false, err
	}
	if ok {
		r.log.Info("counter reseeded from ledger", zap.Int64("sku", skuID), zap.Int64("units", units))
	}
	return ok, nil
}
