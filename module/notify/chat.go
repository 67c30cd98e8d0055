package notify

import (
	"context"
	"strings"

	"PPMall/module/identity"
	"PPMall/module/notify/model"
	"PPMall/service/bus"
	"PPMall/tools/errs"
)

const MaxMessageLen = 4000

// ChatService 买家与卖家之间的一对一会话
type ChatService struct {
	store Store
	n     *Notifier
}

func NewChatService(store Store, pub Publisher) *ChatService {
	return &ChatService{store: store, n: NewNotifier(store, pub)}
}

// Send from 与 to 必须一方是买家一方是卖家
func (s *ChatService) Send(ctx context.Context, from, to identity.Principal, content string) (*model.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > MaxMessageLen {
		return nil, errs.ErrArgs.WrapMsg("invalid content length", "len", len(content))
	}
	if !from.Valid() || !to.Valid() {
		return nil, errs.ErrArgs.WrapMsg("invalid participant", "from", from, "to", to)
	}
	var buyerID, sellerID int64
	switch {
	case from.Role == identity.RoleBuyer && to.Role == identity.RoleSeller:
		buyerID, sellerID = from.ID, to.ID
	case from.Role == identity.RoleSeller && to.Role == identity.RoleBuyer:
		buyerID, sellerID = to.ID, from.ID
	default:
		return nil, errs.ErrNoPermission.WrapMsg("chat is buyer-seller only", "from", from, "to", to)
	}
	conv, err := s.store.EnsureConversation(ctx, buyerID, sellerID)
	if err != nil {
		return nil, err
	}
	msg := &model.ChatMessage{
		ConversationID: conv.ID,
		Sender:         from,
		Content:        content,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.n.publish(ctx, bus.To(to), KindChatMessage, msg)
	return msg, nil
}

// History 非成员一律按不存在处理
func (s *ChatService) History(ctx context.Context, conversationID int64, member identity.Principal, limit int, cursor int64) (Page[model.ChatMessage], error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return Page[model.ChatMessage]{}, err
	}
	if !conv.Has(member) {
		return Page[model.ChatMessage]{}, errs.ErrRecordNotFound.WrapMsg("conversation", "id", conversationID)
	}
	return s.store.ListMessages(ctx, conversationID, limit, cursor)
}

func (s *ChatService) MarkRead(ctx context.Context, messageID int64, reader identity.Principal) error {
	ok, err := s.store.MarkMessageRead(ctx, messageID, reader)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("message", "id", messageID)
	}
	return nil
}
