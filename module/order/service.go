package order

import (
	"context"
	"strconv"
	"time"

	"PPMall/logger"
	"PPMall/module/identity"
	"PPMall/module/notify"
	"PPMall/module/notify/model"
	"PPMall/service/cache"
	"PPMall/service/stock"
	"PPMall/tools/errs"
	"PPMall/tools/ids"
	"PPMall/tools/safe"

	"go.uber.org/zap"
)

const (
	KindOrderCreated  = "order.created"
	KindOrderReceived = "order.received"
	KindOrderCanceled = "order.canceled"
)

type Reserver interface {
	Reserve(ctx context.Context, skuID, qty int64) (stock.Outcome, error)
	Restore(ctx context.Context, skuID, qty int64) error
}

type ReseedTrigger interface {
	Trigger(skuID int64) bool
}

type CacheInvalidator interface {
	InvalidateBeforeWrite(ctx context.Context, keys ...string) error
	InvalidateAfterWrite(keys ...string)
}

type Notifier interface {
	Notify(ctx context.Context, to identity.Principal, msg notify.Message) (*model.Notification, error)
}

// CommitFunc 把订单写入关系库；返回错误时已预留的库存全部回补
type CommitFunc func(ctx context.Context, o *Order) error

type Service struct {
	stock  Reserver
	reseed ReseedTrigger
	cache  CacheInvalidator
	notify Notifier
	clock  func() time.Time
	log    *zap.Logger
}

func NewService(r Reserver, reseed ReseedTrigger, inv CacheInvalidator, n Notifier) *Service {
	safe.MustNotNil(r, "reserver")
	safe.MustNotNil(inv, "cache invalidator")
	safe.MustNotNil(n, "notifier")
	return &Service{
		stock:  r,
		reseed: reseed,
		cache:  inv,
		notify: n,
		clock:  time.Now,
		log:    logger.With(zap.String("component", "order")),
	}
}

// Checkout 逐行预留 -> commit -> 双删购物车缓存 -> 通知买卖双方
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest, commit CommitFunc) (*Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	o := &Order{
		ID:        ids.Generate(),
		Buyer:     req.Buyer,
		SellerID:  req.SellerID,
		Lines:     mergeLines(req.Lines),
		CreatedAt: s.clock(),
	}

	reserved := make([]Line, 0, len(o.Lines))
	for _, l := range o.Lines {
		out, err := s.stock.Reserve(ctx, l.SkuID, l.Qty)
		if err != nil {
			s.compensate(ctx, o.ID, reserved)
			return nil, err
		}
		switch out.Kind {
		case stock.Applied:
			reserved = append(reserved, l)
			o.OpIDs = append(o.OpIDs, out.OpID)
		case stock.InsufficientStock:
			s.compensate(ctx, o.ID, reserved)
			return nil, errs.ErrOutOfStock.WrapMsg("", "sku", l.SkuID, "available", out.Count)
		case stock.UnknownKey:
			s.compensate(ctx, o.ID, reserved)
			if s.reseed != nil {
				s.reseed.Trigger(l.SkuID)
			}
			return nil, errs.ErrStockRetry.WrapMsg("stock warming up", "sku", l.SkuID)
		}
	}

	cartKey := cache.CartKey(o.Buyer.ID)
	dashKey := cache.DashboardKey(o.SellerID)
	if err := s.cache.InvalidateBeforeWrite(ctx, cartKey, dashKey); err != nil {
		s.compensate(ctx, o.ID, reserved)
		return nil, err
	}
	if err := commit(ctx, o); err != nil {
		s.compensate(ctx, o.ID, reserved)
		return nil, err
	}
	s.cache.InvalidateAfterWrite(cartKey, dashKey)

	id := strconv.FormatInt(o.ID, 10)
	s.tell(ctx, o.Buyer, notify.Message{Kind: KindOrderCreated, Title: "Order placed", Body: "order " + id,
		Data: map[string]any{"order_id": id}})
	s.tell(ctx, identity.Seller(o.SellerID), notify.Message{Kind: KindOrderReceived, Title: "New order", Body: "order " + id,
		Data: map[string]any{"order_id": id}})
	return o, nil
}

// Cancel 回补全部行并通知双方；调用方此时已把订单置为取消，
// 这里的失败只记日志不回传，保证每一行都尝试回补
func (s *Service) Cancel(ctx context.Context, o *Order) error {
	if o == nil || len(o.Lines) == 0 {
		return errs.ErrArgs.WrapMsg("nothing to cancel")
	}
	ctx, cancel := detached(ctx)
	defer cancel()

	dashKey := cache.DashboardKey(o.SellerID)
	if err := s.cache.InvalidateBeforeWrite(ctx, dashKey); err != nil {
		s.log.Warn("cancel: first cache delete failed", zap.Int64("order", o.ID), zap.Error(err))
	}
	s.restoreAll(ctx, o.ID, o.Lines)
	s.cache.InvalidateAfterWrite(dashKey)

	id := strconv.FormatInt(o.ID, 10)
	msg := notify.Message{Kind: KindOrderCanceled, Title: "Order canceled", Body: "order " + id,
		Data: map[string]any{"order_id": id}}
	s.tell(ctx, o.Buyer, msg)
	s.tell(ctx, identity.Seller(o.SellerID), msg)
	return nil
}

// detached 订单状态已定之后的收尾不跟随请求取消
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

// compensate 回补已预留的行
func (s *Service) compensate(ctx context.Context, orderID int64, lines []Line) {
	if len(lines) == 0 {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	s.restoreAll(ctx, orderID, lines)
}

func (s *Service) restoreAll(ctx context.Context, orderID int64, lines []Line) {
	for _, l := range lines {
		if err := s.stock.Restore(ctx, l.SkuID, l.Qty); err != nil {
			s.log.Error("restore failed, stock needs manual reseed",
				zap.Int64("order", orderID), zap.Int64("sku", l.SkuID), zap.Int64("qty", l.Qty), zap.Error(err))
		}
	}
}

// tell 订单已提交，通知必须落库，不受请求取消影响
func (s *Service) tell(ctx context.Context, to identity.Principal, msg notify.Message) {
	if s.notify == nil {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	if _, err := s.notify.Notify(ctx, to, msg); err != nil {
		s.log.Warn("order notification not stored", zap.String("to", to.String()), zap.String("kind", msg.Kind), zap.Error(err))
	}
}
