package notify

import (
	"context"

	"PPMall/module/identity"
	"PPMall/module/notify/model"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListQuery Cursor 为上一页最后一条的 id（0 表示第一页），结果按 id 倒序
type ListQuery struct {
	Recipient  identity.Principal
	Limit      int
	Cursor     int64
	UnreadOnly bool
}

type Page[T any] struct {
	Items      []T   `json:"items"`
	NextCursor int64 `json:"next_cursor,string"`
	HasMore    bool  `json:"has_more"`
}

// Store 通知与买卖家会话的持久化
type Store interface {
	Append(ctx context.Context, n *model.Notification) error
	List(ctx context.Context, q ListQuery) (Page[model.Notification], error)
	// MarkRead 不存在或不属于该 recipient 返回 false；已读再标记返回 true
	MarkRead(ctx context.Context, id int64, recipient identity.Principal) (bool, error)

	EnsureConversation(ctx context.Context, buyerID, sellerID int64) (*model.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*model.Conversation, error)
	AppendMessage(ctx context.Context, m *model.ChatMessage) error
	ListMessages(ctx context.Context, conversationID int64, limit int, cursor int64) (Page[model.ChatMessage], error)
	// MarkMessageRead 只有会话里的接收方可以标记
	MarkMessageRead(ctx context.Context, id int64, reader identity.Principal) (bool, error)
}

func normLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

type cursored interface{ Cursor() int64 }

// paginate 输入按 limit+1 取出的倒序结果
func paginate[T cursored](rows []T, limit int) Page[T] {
	page := Page[T]{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		page.HasMore = true
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	if page.HasMore {
		page.NextCursor = page.Items[len(page.Items)-1].Cursor()
	}
	return page
}
