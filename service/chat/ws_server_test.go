package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PPMall/module/identity"
	"PPMall/service/bus"
	"PPMall/tools/errs"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queryAuth 测试用：?as=buyer:1
type queryAuth struct{}

func (queryAuth) Authenticate(r *http.Request) (identity.Principal, error) {
	p, err := identity.ParsePrincipal(r.URL.Query().Get("as"))
	if err != nil {
		return identity.Principal{}, errs.ErrTokenInvalid.WrapMsg("bad principal")
	}
	return p, nil
}

type gatewayNode struct {
	mgr *ConnManager
	srv *httptest.Server
}

func newGatewayNode(t *testing.T, mr *miniredis.Miniredis, name string, mconf ManagerConf) *gatewayNode {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.NewRedisBus(rdb, "test.gateway")
	mgr := NewConnManager(name, b, mconf)
	require.NoError(t, mgr.Start(context.Background()))

	r := gin.New()
	r.GET("/ws", NewGateway(mgr, queryAuth{}, GatewayConf{PongWait: 2 * time.Second}).HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		mgr.Close()
		srv.Close()
		_ = b.Close()
		_ = rdb.Close()
	})
	return &gatewayNode{mgr: mgr, srv: srv}
}

func (n *gatewayNode) dial(t *testing.T, as string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(n.srv.URL, "http") + "/ws?as=" + as
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestGatewayDeliversAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	nodeA := newGatewayNode(t, mr, "gw-a", ManagerConf{})
	nodeB := newGatewayNode(t, mr, "gw-b", ManagerConf{})

	buyerOnA := nodeA.dial(t, "buyer:1")
	buyerOnB := nodeB.dial(t, "buyer:1")
	require.Eventually(t, func() bool {
		return nodeA.mgr.Count() == 1 && nodeB.mgr.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	env, err := bus.NewEnvelope(bus.To(identity.Buyer(1)), "order.placed", map[string]string{"order_id": "77"})
	require.NoError(t, err)
	require.NoError(t, nodeB.mgr.Publish(context.Background(), env))

	for _, ws := range []*websocket.Conn{buyerOnA, buyerOnB} {
		f := readFrame(t, ws)
		assert.Equal(t, env.ID, f.ID)
		assert.Equal(t, "order.placed", f.Kind)
		assert.JSONEq(t, `{"order_id":"77"}`, string(f.Payload))
	}
}

func TestGatewayRejectsUnauthenticated(t *testing.T) {
	mr := miniredis.RunT(t)
	node := newGatewayNode(t, mr, "gw", ManagerConf{})

	url := "ws" + strings.TrimPrefix(node.srv.URL, "http") + "/ws?as=nobody"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, node.mgr.Count())
}

func TestGatewayUnregistersOnClientClose(t *testing.T) {
	mr := miniredis.RunT(t)
	node := newGatewayNode(t, mr, "gw", ManagerConf{})

	ws := node.dial(t, "seller:4")
	require.Eventually(t, func() bool { return node.mgr.CountFor(identity.Seller(4)) == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()
	require.Eventually(t, func() bool { return node.mgr.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayEvictsOldestOverLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	node := newGatewayNode(t, mr, "gw", ManagerConf{MaxPerPrincipal: 1, EvictOldest: true})

	first := node.dial(t, "admin:1")
	require.Eventually(t, func() bool { return node.mgr.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	node.dial(t, "admin:1")

	// 旧连接被服务端关闭
	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool { return node.mgr.CountFor(identity.Admin(1)) == 1 }, 2*time.Second, 10*time.Millisecond)
}
