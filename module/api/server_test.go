package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	midsec "PPMall/middleware/security"
	"PPMall/module/identity"
	"PPMall/module/notify"
	"PPMall/module/notify/model"
	"PPMall/service/bus"
	"PPMall/service/reconcile"
	"PPMall/service/stock"
	"PPMall/tools/errs"
	"PPMall/tools/security"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPub struct{}

func (nopPub) Publish(context.Context, bus.Envelope) error { return nil }

type memLedger struct {
	mu    sync.Mutex
	units map[int64]int64
}

func (m *memLedger) LoadAvailable(_ context.Context, sku int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.units[sku]
	if !ok {
		return 0, errs.ErrUnknownSku.Wrap()
	}
	return n, nil
}

func (m *memLedger) PutAvailable(_ context.Context, sku, units int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[sku] = units
	return nil
}

type env struct {
	t     *testing.T
	srv   *Server
	h     http.Handler
	jwt   security.Options
	rdb   *redis.Client
	store *notify.MemStore
	dead  *reconcile.RedisDeadLetters
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	jwt := security.DefaultOptions([]byte("test"))
	store := notify.NewMemStore()
	dead := reconcile.NewRedisDeadLetters(rdb)
	srv := &Server{
		Notify: store,
		Chat:   notify.NewChatService(store, nopPub{}),
		Dead:   dead,
		Stock:  &stock.Admin{Engine: stock.NewEngine(rdb), Ledger: &memLedger{units: map[int64]int64{42: 3}}},
		Auth:   midsec.NewAuthenticator(midsec.DefaultOptions(jwt)),
	}
	return &env{t: t, srv: srv, h: srv.Router(), jwt: jwt, rdb: rdb, store: store, dead: dead}
}

func (e *env) token(p identity.Principal) string {
	tok, _, err := security.Generate(e.jwt, p)
	require.NoError(e.t, err)
	return tok
}

func (e *env) do(method, url string, as *identity.Principal, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(*as))
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/healthz", nil, nil).Code)

	e.srv.Ready = func(context.Context) error { return errors.New("redis down") }
	assert.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodGet, "/healthz", nil, nil).Code)
}

func TestNotificationsPaginationAndMarkRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	buyer := identity.Buyer(1)
	var ids []int64
	for i := 0; i < 5; i++ {
		n := &model.Notification{Recipient: buyer, Title: "n" + strconv.Itoa(i)}
		require.NoError(t, e.store.Append(ctx, n))
		ids = append(ids, n.ID)
	}

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/notifications", nil, nil).Code)

	w := e.do(http.MethodGet, "/api/notifications?limit=2", &buyer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decode[notify.Page[model.Notification]](t, w)
	require.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, ids[4], page.Items[0].ID)
	assert.Equal(t, ids[3], page.NextCursor)

	w = e.do(http.MethodGet, "/api/notifications?limit=10&cursor="+strconv.FormatInt(page.NextCursor, 10), &buyer, nil)
	page = decode[notify.Page[model.Notification]](t, w)
	assert.Len(t, page.Items, 3)
	assert.False(t, page.HasMore)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/notifications?cursor=abc", &buyer, nil).Code)

	other := identity.Buyer(2)
	url := "/api/notifications/" + strconv.FormatInt(ids[0], 10) + "/read"
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPut, url, &other, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodPut, url, &buyer, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodPut, url, &buyer, nil).Code)

	w = e.do(http.MethodGet, "/api/notifications?unread_only=true", &buyer, nil)
	page = decode[notify.Page[model.Notification]](t, w)
	assert.Len(t, page.Items, 4)
}

func TestChatEndpoints(t *testing.T) {
	e := newEnv(t)
	buyer, seller := identity.Buyer(1), identity.Seller(2)

	w := e.do(http.MethodPost, "/api/conversations/messages", &buyer, map[string]any{
		"to":      seller,
		"content": "hello",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	msg := decode[model.ChatMessage](t, w)

	convURL := "/api/conversations/" + strconv.FormatInt(msg.ConversationID, 10) + "/messages"
	w = e.do(http.MethodGet, convURL, &seller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[notify.Page[model.ChatMessage]](t, w)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "hello", page.Items[0].Content)

	stranger := identity.Buyer(3)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, convURL, &stranger, nil).Code)

	admin := identity.Admin(1)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, convURL, &admin, nil).Code)

	readURL := "/api/messages/" + strconv.FormatInt(msg.ID, 10) + "/read"
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPut, readURL, &buyer, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodPut, readURL, &seller, nil).Code)
}

func TestOpsRequireAdmin(t *testing.T) {
	e := newEnv(t)
	buyer := identity.Buyer(1)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/ops/deadletters", &buyer, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/ops/deadletters", nil, nil).Code)
}

func TestOpsDeadLetters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	admin := identity.Admin(1)
	require.NoError(t, e.dead.Put(ctx, reconcile.DeadLetter{
		OpID: "op-1", SkuID: 42, Quantity: -1, CreatedAt: time.Now(), Reason: "ledger down", Attempts: 5, FailedAt: time.Now(),
	}))

	w := e.do(http.MethodGet, "/ops/deadletters", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decode[struct {
		Items []reconcile.DeadLetter `json:"items"`
	}](t, w)
	require.Len(t, list.Items, 1)
	id := list.Items[0].ID
	assert.Equal(t, "op-1", list.Items[0].OpID)

	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, "/ops/deadletters/"+id+"/replay", &admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, "/ops/deadletters/"+id, &admin, nil).Code)

	n, err := e.rdb.XLen(ctx, stock.DefaultDeltaStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpsStock(t *testing.T) {
	e := newEnv(t)
	admin := identity.Admin(1)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/ops/stock/7", &admin, nil).Code)

	w := e.do(http.MethodPost, "/ops/stock/42/seed", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPost, "/ops/stock/7/seed", &admin, map[string]any{"units": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodGet, "/ops/stock/7", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[stock.View](t, w)
	require.NotNil(t, v.Counter)
	assert.Equal(t, int64(10), *v.Counter)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/ops/stock/0/seed", &admin, nil).Code)
}
