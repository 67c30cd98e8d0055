package chat

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"PPMall/logger"
	"PPMall/module/identity"
	"PPMall/service/bus"
	"PPMall/tools/errs"

	"go.uber.org/zap"
)

// ===== 配置 =====

type ManagerConf struct {
	MaxPerPrincipal int              // 每个 principal 最大连接数（<=0 不限制）
	EvictOldest     bool             // 超限时是否淘汰最老连接（否则 Register 直接报错）
	IdleTTL         time.Duration    // 超过该时长没有心跳的连接由 sweeper 关闭
	SweepEvery      time.Duration    // 清理周期
	Clock           func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 2 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
}

// Frame 推给客户端的帧
type Frame struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Stats struct {
	Connections int   `json:"connections"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
}

// ConnManager 本进程的连接表；订阅总线，把事件推给本地匹配的连接。
// 推送只做非阻塞入队，慢连接队列满即断开，不影响其它连接。
type ConnManager struct {
	mu          sync.RWMutex
	byConn      map[string]*Client                        // 主索引：connID -> client
	byPrincipal map[identity.Principal]map[string]*Client // principal -> (connID -> client)
	byRole      map[identity.Role]map[string]*Client      // 广播用

	bus  bus.Bus
	conf ManagerConf
	gwId string // 节点ID
	log  *zap.Logger

	delivered atomic.Int64
	dropped   atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewConnManager(gwId string, b bus.Bus, conf ManagerConf) *ConnManager {
	conf.norm()
	return &ConnManager{
		byConn:      make(map[string]*Client),
		byPrincipal: make(map[identity.Principal]map[string]*Client),
		byRole:      make(map[identity.Role]map[string]*Client),
		bus:         b,
		conf:        conf,
		gwId:        gwId,
		log:         logger.With(zap.String("component", "conn_manager"), zap.String("gw", gwId)),
		stopCh:      make(chan struct{}),
	}
}

func (m *ConnManager) GwId() string { return m.gwId }

// Start 订阅总线并启动 sweeper
func (m *ConnManager) Start(ctx context.Context) error {
	if err := m.bus.Subscribe(ctx, m.OnBusMessage); err != nil {
		return err
	}
	go m.sweeper()
	return nil
}

// Publish 发往总线；所有网关（包括自己）从总线收到后各自投递
func (m *ConnManager) Publish(ctx context.Context, env bus.Envelope) error {
	return m.bus.Publish(ctx, env)
}

// Register 登记连接；超过上限时按配置淘汰最老的或拒绝
func (m *ConnManager) Register(c *Client) error {
	if c == nil || c.ConnID == "" || !c.Principal.Valid() {
		return errs.ErrArgs.WrapMsg("invalid client")
	}
	var evicted *Client
	m.mu.Lock()
	if _, exists := m.byConn[c.ConnID]; exists {
		m.mu.Unlock()
		return errs.ErrArgs.WrapMsg("connID exists", "conn", c.ConnID)
	}
	if m.conf.MaxPerPrincipal > 0 && len(m.byPrincipal[c.Principal]) >= m.conf.MaxPerPrincipal {
		if !m.conf.EvictOldest {
			m.mu.Unlock()
			return errs.ErrConnLimit.WrapMsg("too many connections", "principal", c.Principal.String())
		}
		// 选择最老的一条淘汰（CreatedAt 更早）
		for _, w := range m.byPrincipal[c.Principal] {
			if evicted == nil || w.CreatedAt.Before(evicted.CreatedAt) {
				evicted = w
			}
		}
		m.removeLocked(evicted)
	}
	m.byConn[c.ConnID] = c
	if m.byPrincipal[c.Principal] == nil {
		m.byPrincipal[c.Principal] = make(map[string]*Client)
	}
	m.byPrincipal[c.Principal][c.ConnID] = c
	if m.byRole[c.Principal.Role] == nil {
		m.byRole[c.Principal.Role] = make(map[string]*Client)
	}
	m.byRole[c.Principal.Role][c.ConnID] = c
	m.mu.Unlock()

	// 解锁后关闭
	if evicted != nil {
		m.log.Info("evict oldest connection", zap.String("principal", evicted.Principal.String()), zap.String("conn", evicted.ConnID))
		evicted.Close()
	}
	return nil
}

// Unregister 只移除同一个 client 实例；重复调用无副作用
func (m *ConnManager) Unregister(c *Client) bool {
	if c == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byConn[c.ConnID]; !ok || cur != c {
		return false
	}
	m.removeLocked(c)
	return true
}

// 需要在持锁状态下调用（*_Locked）
func (m *ConnManager) removeLocked(c *Client) {
	delete(m.byConn, c.ConnID)
	if mm := m.byPrincipal[c.Principal]; mm != nil {
		delete(mm, c.ConnID)
		if len(mm) == 0 {
			delete(m.byPrincipal, c.Principal)
		}
	}
	if mm := m.byRole[c.Principal.Role]; mm != nil {
		delete(mm, c.ConnID)
		if len(mm) == 0 {
			delete(m.byRole, c.Principal.Role)
		}
	}
}

// OnBusMessage 总线回调：匹配本地连接并入队
func (m *ConnManager) OnBusMessage(_ context.Context, env bus.Envelope) {
	targets := m.match(env.Target)
	if len(targets) == 0 {
		return
	}
	frame, err := json.Marshal(Frame{ID: env.ID, Kind: env.Kind, Payload: env.Payload, CreatedAt: env.CreatedAt})
	if err != nil {
		m.log.Warn("marshal frame failed", zap.String("id", env.ID), zap.Error(err))
		return
	}
	for _, c := range targets {
		if c.enqueue(frame) {
			m.delivered.Add(1)
			continue
		}
		m.dropped.Add(1)
		m.log.Warn("send queue full, disconnect slow client",
			zap.String("principal", c.Principal.String()), zap.String("conn", c.ConnID), zap.String("kind", env.Kind))
		m.Unregister(c)
		c.Close()
	}
}

// match 持读锁拷贝一份快照，投递在锁外进行
func (m *ConnManager) match(t bus.Target) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var mm map[string]*Client
	if t.Principal != nil {
		mm = m.byPrincipal[*t.Principal]
	} else {
		mm = m.byRole[t.Broadcast]
	}
	out := make([]*Client, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

// Heartbeat 刷新心跳（pong / 任意入站帧）
func (m *ConnManager) Heartbeat(c *Client) {
	c.touch(m.conf.Clock())
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

func (m *ConnManager) CountFor(p identity.Principal) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byPrincipal[p])
}

func (m *ConnManager) Stats() Stats {
	return Stats{Connections: m.Count(), Delivered: m.delivered.Load(), Dropped: m.dropped.Load()}
}

// Close 关闭所有连接
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	all := make([]*Client, 0, len(m.byConn))
	for _, c := range m.byConn {
		all = append(all, c)
	}
	m.byConn = map[string]*Client{}
	m.byPrincipal = map[identity.Principal]map[string]*Client{}
	m.byRole = map[identity.Role]map[string]*Client{}
	m.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*Client

	m.mu.Lock()
	for _, c := range m.byConn {
		if now.Sub(c.lastHeartbeat()) > m.conf.IdleTTL {
			// 收集后统一关闭，避免持锁期间关闭 socket
			expired = append(expired, c)
			m.removeLocked(c)
		}
	}
	m.mu.Unlock()

	for _, c := range expired {
		m.log.Info("close idle connection", zap.String("principal", c.Principal.String()), zap.String("conn", c.ConnID))
		c.Close()
	}
	return len(expired)
}
