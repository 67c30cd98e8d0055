package chat

import (
	"errors"
	"net"
	"net/http"
	"time"

	"PPMall/logger"
	"PPMall/module/identity"
	"PPMall/tools/errs"
	"PPMall/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Authenticator 握手前从请求里解析出 principal
type Authenticator interface {
	Authenticate(r *http.Request) (identity.Principal, error)
}

type GatewayConf struct {
	SendQueue    int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	ReadLimit    int64
}

func (c *GatewayConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 4096
	}
}

// Gateway websocket 入口：鉴权 -> 升级 -> 登记 -> 读/写协程
type Gateway struct {
	mgr      *ConnManager
	auth     Authenticator
	conf     GatewayConf
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewGateway(mgr *ConnManager, auth Authenticator, conf GatewayConf) *Gateway {
	conf.norm()
	return &Gateway{
		mgr:  mgr,
		auth: auth,
		conf: conf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger.With(zap.String("component", "ws_gateway")),
	}
}

// HandleWS ===== WebSocket 处理 =====
func (g *Gateway) HandleWS(c *gin.Context) {
	p, err := g.auth.Authenticate(c.Request)
	if err != nil {
		ce := errs.CodeOf(err)
		c.AbortWithStatusJSON(errs.HTTPStatus(ce.Code), ce)
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败（upgrader 已写回错误响应）
		g.log.Info("upgrade websocket failed", zap.Error(err))
		return
	}

	client := NewClient(ids.GenerateString(), p, g.conf.SendQueue, func() { _ = ws.Close() })
	if err := g.mgr.Register(client); err != nil {
		g.log.Warn("register connection rejected", zap.String("principal", p.String()), zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection limit"),
			time.Now().Add(g.conf.WriteWait))
		_ = ws.Close()
		return
	}
	g.log.Debug("connection registered", zap.String("principal", p.String()), zap.String("conn", client.ConnID))

	go g.writePump(ws, client)
	g.readPump(ws, client)

	g.mgr.Unregister(client)
	client.Close()
	g.log.Debug("connection closed", zap.String("principal", p.String()), zap.String("conn", client.ConnID))
}

// readPump 只读不写；入站帧只用来续期心跳
func (g *Gateway) readPump(ws *websocket.Conn, client *Client) {
	ws.SetReadLimit(g.conf.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(g.conf.PongWait))
	ws.SetPongHandler(func(string) error {
		g.mgr.Heartbeat(client)
		return ws.SetReadDeadline(time.Now().Add(g.conf.PongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				g.log.Debug("peer closed", zap.String("conn", client.ConnID))
			case errors.As(err, &ne) && ne.Timeout():
				g.log.Info("read timeout", zap.String("conn", client.ConnID))
			default:
				g.log.Debug("read error", zap.String("conn", client.ConnID), zap.Error(err))
			}
			return
		}
		g.mgr.Heartbeat(client)
		_ = ws.SetReadDeadline(time.Now().Add(g.conf.PongWait))
	}
}

// writePump 唯一写协程：出站帧 + 定时 ping
func (g *Gateway) writePump(ws *websocket.Conn, client *Client) {
	ticker := time.NewTicker(g.conf.PingInterval)
	defer func() {
		ticker.Stop()
		client.Close()
	}()
	for {
		select {
		case frame := <-client.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(g.conf.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.log.Debug("write failed", zap.String("conn", client.ConnID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(g.conf.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(g.conf.WriteWait))
			return
		}
	}
}
