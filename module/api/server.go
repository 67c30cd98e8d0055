package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"PPMall/logger"
	"PPMall/middleware"
	midsec "PPMall/middleware/security"
	"PPMall/module/identity"
	"PPMall/module/notify"
	"PPMall/service/chat"
	"PPMall/service/reconcile"
	"PPMall/service/stock"
	"PPMall/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server HTTP 接口；未装配的依赖对应路由不注册
type Server struct {
	Notify  notify.Store
	Chat    *notify.ChatService
	Dead    reconcile.DeadLetterStore
	Stock   *stock.Admin
	Orders  *Orders
	Gateway *chat.Gateway
	Auth    *midsec.Authenticator

	// Ready 健康检查；nil 视为就绪
	Ready func(ctx context.Context) error

	AllowedOrigins []string
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	mgr := middleware.NewManager()
	mgr.Add("recover", middleware.Recover())
	mgr.Add("access_log", middleware.AccessLog())
	mgr.Add("origin", middleware.Origin(s.AllowedOrigins))
	r.Use(mgr.Use())

	r.GET("/healthz", handle(s.Healthz))
	if s.Gateway != nil {
		r.GET("/ws", s.Gateway.HandleWS)
	}

	authed := middleware.RouteOpt{IsAuth: true}
	if s.Notify != nil {
		api := middleware.NewRoutes(r.Group("/api"), s.Auth)
		api.GET("/notifications", handle(s.ListNotifications), authed)
		api.PUT("/notifications/:id/read", handle(s.MarkNotificationRead), authed)
		if s.Chat != nil {
			chatOpt := middleware.RouteOpt{Roles: []identity.Role{identity.RoleBuyer, identity.RoleSeller}}
			api.GET("/conversations/:id/messages", handle(s.ListMessages), chatOpt)
			api.POST("/conversations/messages", handle(s.SendMessage), chatOpt)
			api.PUT("/messages/:id/read", handle(s.MarkMessageRead), chatOpt)
		}
	}
	if s.Orders != nil {
		api := middleware.NewRoutes(r.Group("/api"), s.Auth)
		buyer := middleware.RouteOpt{Roles: []identity.Role{identity.RoleBuyer}}
		api.POST("/orders", handle(s.Checkout), buyer)
		api.POST("/orders/:id/cancel", handle(s.CancelOrder), buyer)
		api.GET("/seller/dashboard", handle(s.SellerDashboard), middleware.RouteOpt{Roles: []identity.Role{identity.RoleSeller}})
	}

	ops := middleware.NewRoutes(r.Group("/ops"), s.Auth)
	admin := middleware.RouteOpt{Roles: []identity.Role{identity.RoleAdmin}}
	if s.Dead != nil {
		ops.GET("/deadletters", handle(s.ListDeadLetters), admin)
		ops.POST("/deadletters/:id/replay", handle(s.ReplayDeadLetter), admin)
		ops.DELETE("/deadletters/:id", handle(s.DropDeadLetter), admin)
	}
	if s.Stock != nil {
		ops.GET("/stock/:sku", handle(s.GetStock), admin)
		ops.POST("/stock/:sku/seed", handle(s.SeedStock), admin)
	}
	return r
}

// handle 统一把错误写成 {code,msg,detail}
func handle(h func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h(c)
		if err == nil {
			return
		}
		ce := errs.CodeOf(err)
		status := errs.HTTPStatus(ce.Code)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		}
		c.AbortWithStatusJSON(status, ce)
	}
}

func (s *Server) Healthz(c *gin.Context) error {
	if s.Ready != nil {
		if err := s.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "detail": err.Error()})
			return nil
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
	return nil
}

// helpers

func principal(c *gin.Context) (identity.Principal, error) {
	p, ok := midsec.PrincipalFrom(c)
	if !ok {
		return identity.Principal{}, errs.ErrTokenInvalid.Wrap()
	}
	return p, nil
}

func paramInt64(c *gin.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, errs.ErrArgs.WrapMsg("invalid path param", name, c.Param(name))
	}
	return v, nil
}

func queryInt64(c *gin.Context, name string, def int64) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errs.ErrArgs.WrapMsg("invalid query param", name, raw)
	}
	return v, nil
}

func queryBool(c *gin.Context, name string) (bool, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errs.ErrArgs.WrapMsg("invalid query param", name, raw)
	}
	return v, nil
}
