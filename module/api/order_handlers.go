package api

import (
	"context"
	"net/http"
	"time"

	"PPMall/module/identity"
	"PPMall/module/order"
	"PPMall/service/cache"
	"PPMall/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// OrderStore 订单落库；PgRepo 实现
type OrderStore interface {
	Insert(ctx context.Context, o *order.Order) error
	MarkCanceled(ctx context.Context, id int64, buyer identity.Principal) (*order.Order, error)
	SellerSummary(ctx context.Context, sellerID int64) (order.Summary, error)
}

// Orders 下单相关依赖
type Orders struct {
	Service      *order.Service
	Store        OrderStore
	Cache        redis.UniversalClient
	DashboardTTL time.Duration
}

type checkoutReq struct {
	SellerID int64        `json:"seller_id,string"`
	Lines    []order.Line `json:"lines"`
}

// Checkout POST /api/orders
func (s *Server) Checkout(c *gin.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		return errs.ErrArgs.WrapMsg("bad body", "err", err)
	}
	o, err := s.Orders.Service.Checkout(c.Request.Context(), order.CheckoutRequest{
		Buyer:    p,
		SellerID: req.SellerID,
		Lines:    req.Lines,
	}, s.Orders.Store.Insert)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, o)
	return nil
}

// CancelOrder POST /api/orders/:id/cancel
func (s *Server) CancelOrder(c *gin.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := paramInt64(c, "id")
	if err != nil {
		return err
	}
	o, err := s.Orders.Store.MarkCanceled(c.Request.Context(), id, p)
	if err != nil {
		return err
	}
	if err := s.Orders.Service.Cancel(c.Request.Context(), o); err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
	return nil
}

// SellerDashboard GET /api/seller/dashboard，读穿缓存，订单写入时双删
func (s *Server) SellerDashboard(c *gin.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	ttl := s.Orders.DashboardTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	sum, err := cache.GetOrLoad(c.Request.Context(), s.Orders.Cache, cache.DashboardKey(p.ID), ttl,
		func(ctx context.Context) (order.Summary, error) {
			return s.Orders.Store.SellerSummary(ctx, p.ID)
		})
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, sum)
	return nil
}
