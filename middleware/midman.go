package middleware

import (
	"sync"
	"time"

	"PPMall/logger"
	"PPMall/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 全局单例 + once
var (
	globalMgr *MiddlewareManager
	once      sync.Once
)

type named struct {
	name string
	h    gin.HandlerFunc
}

// MiddlewareManager 按名字注册/替换/注销全局中间件，运行期可调整
type MiddlewareManager struct {
	mu   sync.RWMutex
	mids []named
}

func NewManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// Manager 获取全局实例（惰性初始化，线程安全）
func Manager() *MiddlewareManager {
	once.Do(func() {
		globalMgr = NewManager()
	})
	return globalMgr
}

// Add 同名则替换，保持原位置
func (m *MiddlewareManager) Add(name string, h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mids {
		if m.mids[i].name == name {
			m.mids[i].h = h
			return
		}
	}
	m.mids = append(m.mids, named{name: name, h: h})
}

func (m *MiddlewareManager) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mids {
		if m.mids[i].name == name {
			m.mids = append(m.mids[:i], m.mids[i+1:]...)
			return true
		}
	}
	return false
}

func (m *MiddlewareManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.mids))
	for _, n := range m.mids {
		out = append(out, n.name)
	}
	return out
}

// Use 作为总控挂载到 Engine 上；每个请求取一次快照
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := make([]gin.HandlerFunc, 0, len(m.mids))
		for _, n := range m.mids {
			handlers = append(handlers, n.h)
		}
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}

// AccessLog 请求日志；5xx 记 warn
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("cost", time.Since(start)),
		}
		if c.Writer.Status() >= 500 {
			logger.Warn("http", fields...)
			return
		}
		logger.Debug("http", fields...)
	}
}

// Recover handler panic 转成 500 {code,msg}
func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("http handler panic", zap.Error(errs.ErrPanic(r)), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				c.AbortWithStatusJSON(500, errs.ErrInternalServer)
			}
		}()
		c.Next()
	}
}
