package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPMall/module/identity"
	"PPMall/module/notify/model"
	"PPMall/tools/errs"
	"PPMall/tools/ids"
)

type pair struct{ buyer, seller int64 }

// MemStore NOTIFY_STORE=memory 的单节点开发实现，也是各包测试共用的存储；不做 TTL 清理
type MemStore struct {
	mu       sync.Mutex
	notes    map[int64]*model.Notification
	convs    map[int64]*model.Conversation
	convPair map[pair]int64
	msgs     map[int64]*model.ChatMessage

	clock func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		notes:    make(map[int64]*model.Notification),
		convs:    make(map[int64]*model.Conversation),
		convPair: make(map[pair]int64),
		msgs:     make(map[int64]*model.ChatMessage),
		clock:    time.Now,
	}
}

func (s *MemStore) Append(_ context.Context, n *model.Notification) error {
	if !n.Recipient.Valid() {
		return errs.ErrArgs.WrapMsg("invalid recipient", "recipient", n.Recipient)
	}
	if n.ID == 0 {
		n.ID = ids.Generate()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock()
	}
	cp := *n
	s.mu.Lock()
	s.notes[cp.ID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemStore) List(_ context.Context, q ListQuery) (Page[model.Notification], error) {
	if !q.Recipient.Valid() {
		return Page[model.Notification]{}, errs.ErrArgs.WrapMsg("invalid recipient")
	}
	limit := normLimit(q.Limit)
	s.mu.Lock()
	rows := make([]model.Notification, 0)
	for _, n := range s.notes {
		if n.Recipient != q.Recipient {
			continue
		}
		if q.Cursor > 0 && n.ID >= q.Cursor {
			continue
		}
		if q.UnreadOnly && n.IsRead {
			continue
		}
		rows = append(rows, *n)
	}
	s.mu.Unlock()
	return paginate(takeDesc(rows, limit+1), limit), nil
}

func (s *MemStore) MarkRead(_ context.Context, id int64, recipient identity.Principal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok || n.Recipient != recipient {
		return false, nil
	}
	n.IsRead = true
	return true, nil
}

func (s *MemStore) EnsureConversation(_ context.Context, buyerID, sellerID int64) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pair{buyerID, sellerID}
	if id, ok := s.convPair[key]; ok {
		cp := *s.convs[id]
		return &cp, nil
	}
	c := &model.Conversation{
		ID:        ids.Generate(),
		BuyerID:   buyerID,
		SellerID:  sellerID,
		CreatedAt: s.clock(),
	}
	s.convs[c.ID] = c
	s.convPair[key] = c.ID
	cp := *c
	return &cp, nil
}

func (s *MemStore) GetConversation(_ context.Context, id int64) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("conversation", "id", id)
	}
	cp := *c
	return &cp, nil
}

func (s *MemStore) AppendMessage(_ context.Context, m *model.ChatMessage) error {
	if m.ID == 0 {
		m.ID = ids.Generate()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock()
	}
	cp := *m
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[cp.ID] = &cp
	if c, ok := s.convs[cp.ConversationID]; ok && cp.CreatedAt.After(c.LastMessageAt) {
		c.LastMessageAt = cp.CreatedAt
	}
	return nil
}

func (s *MemStore) ListMessages(_ context.Context, conversationID int64, limit int, cursor int64) (Page[model.ChatMessage], error) {
	limit = normLimit(limit)
	s.mu.Lock()
	rows := make([]model.ChatMessage, 0)
	for _, m := range s.msgs {
		if m.ConversationID != conversationID {
			continue
		}
		if cursor > 0 && m.ID >= cursor {
			continue
		}
		rows = append(rows, *m)
	}
	s.mu.Unlock()
	return paginate(takeDesc(rows, limit+1), limit), nil
}

func (s *MemStore) MarkMessageRead(_ context.Context, id int64, reader identity.Principal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return false, nil
	}
	c, ok := s.convs[m.ConversationID]
	if !ok || !canRead(c, m, reader) {
		return false, nil
	}
	m.IsRead = true
	return true, nil
}

func takeDesc[T cursored](rows []T, n int) []T {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Cursor() > rows[j].Cursor() })
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows
}
