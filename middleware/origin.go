package middleware

import (
	"net/http"
	"strings"

	"PPMall/tools/errs"

	"github.com/gin-gonic/gin"
)

// Origin websocket 握手的来源校验；allowed 为空时放行
func Origin(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if len(set) == 0 || c.Request.Method != http.MethodGet || c.Request.URL.Path != "/ws" {
			c.Next()
			return
		}
		origin := strings.ToLower(c.GetHeader("Origin"))
		if origin == "" {
			// 非浏览器客户端
			c.Next()
			return
		}
		if _, ok := set[origin]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, errs.ErrNoPermission.WithDetail("origin not allowed"))
			return
		}
		c.Next()
	}
}
