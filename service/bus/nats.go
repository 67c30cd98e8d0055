package bus

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"PPMall/logger"
	"PPMall/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsConfig 客户端配置
type NatsConfig struct {
	Servers       []string
	Name          string
	User          string
	Password      string
	Subject       string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NatsBus core NATS 普通订阅（不加 queue group），每个网关进程都收到全部事件
type NatsBus struct {
	nc      *nats.Conn
	subject string
	mws     []Middleware
	log     *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNatsBus 连接 NATS
func NewNatsBus(cfg NatsConfig, mws ...Middleware) (*NatsBus, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.ErrArgs.WrapMsg("nats servers missing")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	log := logger.With(zap.String("component", "bus.nats"))
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "servers", cfg.Servers)
	}
	return &NatsBus{nc: nc, subject: cfg.Subject, mws: mws, log: log}, nil
}

func (b *NatsBus) Publish(_ context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errs.WrapMsg(err, "marshal envelope")
	}
	msg := nats.NewMsg(b.subject)
	msg.Header.Set(nats.MsgIdHdr, env.ID)
	msg.Data = data
	if err := b.nc.PublishMsg(msg); err != nil {
		return errs.WrapMsg(err, "nats publish", "subject", b.subject)
	}
	return nil
}

func (b *NatsBus) Subscribe(ctx context.Context, h Handler) error {
	h = Chain(h, b.mws...)
	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		env, err := decodeEnvelope(m.Data)
		if err != nil {
			b.log.Warn("drop malformed envelope", zap.Error(err))
			return
		}
		h(ctx, env)
	})
	if err != nil {
		return errs.WrapMsg(err, "nats subscribe", "subject", b.subject)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	if err := b.nc.FlushTimeout(3 * time.Second); err != nil {
		_ = sub.Unsubscribe()
		return errs.WrapMsg(err, "nats flush subscription")
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Close 优雅关闭
func (b *NatsBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Drain()
	}
	b.subs = nil
	b.mu.Unlock()
	if b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}
