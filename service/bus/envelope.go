package bus

import (
	"context"
	"encoding/json"
	"time"

	"PPMall/module/identity"
	"PPMall/tools/errs"

	"github.com/google/uuid"
)

const DefaultSubject = "ppmall.events"

// Target 单播给某个 principal，或按角色广播；二选一
type Target struct {
	Principal *identity.Principal `json:"principal,omitempty"`
	Broadcast identity.Role       `json:"broadcast,omitempty"`
}

func To(p identity.Principal) Target   { return Target{Principal: &p} }
func Broadcast(r identity.Role) Target { return Target{Broadcast: r} }

func (t Target) Valid() bool {
	if t.Principal != nil {
		return t.Broadcast == 0 && t.Principal.Valid()
	}
	return t.Broadcast.Valid()
}

func (t Target) Matches(p identity.Principal) bool {
	if t.Principal != nil {
		return *t.Principal == p
	}
	return t.Broadcast == p.Role
}

// Envelope 总线上流转的一条事件
type Envelope struct {
	ID        string          `json:"id"`
	Target    Target          `json:"target"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewEnvelope(target Target, kind string, payload any) (Envelope, error) {
	if !target.Valid() {
		return Envelope{}, errs.ErrArgs.WrapMsg("invalid envelope target")
	}
	if kind == "" {
		return Envelope{}, errs.ErrArgs.WrapMsg("envelope kind required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errs.WrapMsg(err, "marshal envelope payload", "kind", kind)
	}
	return Envelope{
		ID:        uuid.NewString(),
		Target:    target,
		Kind:      kind,
		Payload:   raw,
		CreatedAt: time.Now(),
	}, nil
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errs.ErrArgs.WrapMsg("decode envelope", "err", err)
	}
	if env.ID == "" || !env.Target.Valid() {
		return Envelope{}, errs.ErrArgs.WrapMsg("malformed envelope", "id", env.ID)
	}
	return env, nil
}

// Handler 每个订阅按收到顺序串行调用
type Handler func(ctx context.Context, env Envelope)

// Middleware 中间件（去重、日志等）
type Middleware func(Handler) Handler

// Chain 组合中间件
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Bus 跨进程广播：每个订阅进程都收到每一条（非队列组语义）
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}
