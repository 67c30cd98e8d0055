package middleware

import (
	"net/http"

	midsec "PPMall/middleware/security"
	"PPMall/module/identity"

	"github.com/gin-gonic/gin"
)

// RouteOpt 路由选项
type RouteOpt struct {
	IsAuth bool
	Roles  []identity.Role // 非空时要求角色之一，隐含 IsAuth
}

// Routes 带鉴权的路由注册
type Routes struct {
	r    gin.IRoutes
	auth *midsec.Authenticator
}

func NewRoutes(r gin.IRoutes, auth *midsec.Authenticator) *Routes {
	return &Routes{r: r, auth: auth}
}

func (rt *Routes) handle(method, path string, handler gin.HandlerFunc, opt RouteOpt) {
	var chain []gin.HandlerFunc
	if opt.IsAuth || len(opt.Roles) > 0 {
		chain = append(chain, rt.auth.Middleware())
	}
	if len(opt.Roles) > 0 {
		chain = append(chain, midsec.RequireRole(opt.Roles...))
	}
	rt.r.Handle(method, path, append(chain, handler)...)
}

func (rt *Routes) GET(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.handle(http.MethodGet, path, handler, opt)
}

func (rt *Routes) POST(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.handle(http.MethodPost, path, handler, opt)
}

func (rt *Routes) PUT(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.handle(http.MethodPut, path, handler, opt)
}

func (rt *Routes) DELETE(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.handle(http.MethodDelete, path, handler, opt)
}
