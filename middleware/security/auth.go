package security

import (
	"net/http"
	"strings"

	"PPMall/module/identity"
	"PPMall/tools/errs"
	"PPMall/tools/security"

	"github.com/gin-gonic/gin"
)

// context key
const PPCtxPrincipalKey = "principal" // identity.Principal

type Options struct {
	JWT        security.Options
	QueryToken string // 浏览器 websocket 无法带头时用，默认 "token"
}

func DefaultOptions(jwt security.Options) *Options {
	return &Options{JWT: jwt, QueryToken: "token"}
}

// Authenticator 同时用于 gin 中间件与 websocket 握手
type Authenticator struct {
	opts *Options
}

func NewAuthenticator(opts *Options) *Authenticator {
	if opts.QueryToken == "" {
		opts.QueryToken = "token"
	}
	return &Authenticator{opts: opts}
}

// Authenticate 优先 Authorization: Bearer，其次 query 参数
func (a *Authenticator) Authenticate(r *http.Request) (identity.Principal, error) {
	token := bearer(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get(a.opts.QueryToken))
	}
	if token == "" {
		return identity.Principal{}, errs.ErrTokenInvalid.WrapMsg("missing token")
	}
	return security.Verify(a.opts.JWT, token)
}

func bearer(authz string) string {
	authz = strings.TrimSpace(authz)
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}

// Middleware 校验令牌并把 principal 写入 context
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := a.Authenticate(c.Request)
		if err != nil {
			Abort(c, err)
			return
		}
		c.Set(PPCtxPrincipalKey, p)
		c.Next()
	}
}

// RequireRole 必须挂在 Middleware 之后
func RequireRole(roles ...identity.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			Abort(c, errs.ErrTokenInvalid.Wrap())
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		Abort(c, errs.ErrNoPermission.WrapMsg("role not allowed", "role", p.Role))
	}
}

func PrincipalFrom(c *gin.Context) (identity.Principal, bool) {
	v, ok := c.Get(PPCtxPrincipalKey)
	if !ok {
		return identity.Principal{}, false
	}
	p, ok := v.(identity.Principal)
	return p, ok
}

// Abort 以 {code,msg,detail} 结束请求
func Abort(c *gin.Context, err error) {
	ce := errs.CodeOf(err)
	c.AbortWithStatusJSON(errs.HTTPStatus(ce.Code), ce)
}
