package model

import (
	"time"

	"PPMall/module/identity"
)

const (
	ConversationCollection = "conversation"
	ChatMessageCollection  = "chat_message"

	ConversationFieldID            = "_id"
	ConversationFieldBuyerID       = "buyer_id"
	ConversationFieldSellerID      = "seller_id"
	ConversationFieldCreatedAt     = "created_at"
	ConversationFieldLastMessageAt = "last_message_at"

	ChatMessageFieldID             = "_id"
	ChatMessageFieldConversationID = "conversation_id"
	ChatMessageFieldSender         = "sender"
	ChatMessageFieldIsRead         = "is_read"
	ChatMessageFieldCreatedAt      = "created_at"
)

// Conversation 买家-卖家一对一会话；(buyer_id, seller_id) 唯一
type Conversation struct {
	ID            int64     `bson:"_id" json:"id,string"`
	BuyerID       int64     `bson:"buyer_id" json:"buyer_id,string"`
	SellerID      int64     `bson:"seller_id" json:"seller_id,string"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	LastMessageAt time.Time `bson:"last_message_at,omitempty" json:"last_message_at,omitempty"`
}

// Has 是否为会话成员
func (c *Conversation) Has(p identity.Principal) bool {
	switch p.Role {
	case identity.RoleBuyer:
		return p.ID == c.BuyerID
	case identity.RoleSeller:
		return p.ID == c.SellerID
	default:
		return false
	}
}

type ChatMessage struct {
	ID             int64              `bson:"_id" json:"id,string"`
	ConversationID int64              `bson:"conversation_id" json:"conversation_id,string"`
	Sender         identity.Principal `bson:"sender" json:"sender"`
	Content        string             `bson:"content" json:"content"`
	IsRead         bool               `bson:"is_read" json:"is_read"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}

func (m ChatMessage) Cursor() int64 { return m.ID }
