package notify

import (
	"context"

	"PPMall/logger"
	"PPMall/module/identity"
	"PPMall/module/notify/model"
	"PPMall/service/bus"
	"PPMall/tools/errs"

	"go.uber.org/zap"
)

const (
	KindNotification = "notification"
	KindChatMessage  = "chat.message"
)

// Publisher bus.Bus 或 chat.ConnManager 都满足
type Publisher interface {
	Publish(ctx context.Context, env bus.Envelope) error
}

type Message struct {
	Kind  string
	Title string
	Body  string
	Data  map[string]any
}

// Notifier 先落库再推送；推送失败只记日志，离线用户靠拉取补齐
type Notifier struct {
	store Store
	pub   Publisher
	log   *zap.Logger
}

func NewNotifier(store Store, pub Publisher) *Notifier {
	return &Notifier{store: store, pub: pub, log: logger.With(zap.String("component", "notifier"))}
}

func (n *Notifier) Notify(ctx context.Context, to identity.Principal, msg Message) (*model.Notification, error) {
	if msg.Kind == "" {
		msg.Kind = KindNotification
	}
	rec := &model.Notification{
		Recipient: to,
		Kind:      msg.Kind,
		Title:     msg.Title,
		Body:      msg.Body,
		Data:      msg.Data,
	}
	if err := n.store.Append(ctx, rec); err != nil {
		return nil, err
	}
	n.publish(ctx, bus.To(to), KindNotification, rec)
	return rec, nil
}

// NotifyAll 逐个收件人落库并推送，返回第一个落库错误
func (n *Notifier) NotifyAll(ctx context.Context, recipients []identity.Principal, msg Message) error {
	var first error
	for _, p := range recipients {
		if _, err := n.Notify(ctx, p, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Broadcast 按角色推给在线连接，不落库
func (n *Notifier) Broadcast(ctx context.Context, role identity.Role, msg Message) error {
	if !role.Valid() {
		return errs.ErrArgs.WrapMsg("invalid broadcast role", "role", role)
	}
	if msg.Kind == "" {
		msg.Kind = KindNotification
	}
	n.publish(ctx, bus.Broadcast(role), KindNotification, model.Notification{
		Kind:  msg.Kind,
		Title: msg.Title,
		Body:  msg.Body,
		Data:  msg.Data,
	})
	return nil
}

func (n *Notifier) publish(ctx context.Context, target bus.Target, kind string, payload any) {
	env, err := bus.NewEnvelope(target, kind, payload)
	if err == nil {
		err = n.pub.Publish(ctx, env)
	}
	if err != nil {
		n.log.Warn("publish failed", zap.String("kind", kind), zap.Error(err))
	}
}
