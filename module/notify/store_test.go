package notify

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"PPMall/data/database/mgo/mongoutil"
	"PPMall/module/identity"
	"PPMall/module/notify/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeCases 对任意 Store 实现跑同一组用例
func storeCases(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CursorChainIsComplete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		alice := identity.Buyer(7)

		const total = 53
		want := make(map[int64]bool)
		for i := 0; i < total; i++ {
			n := &model.Notification{Recipient: alice, Kind: KindNotification, Title: "t"}
			require.NoError(t, s.Append(ctx, n))
			want[n.ID] = true
		}
		// 别人的记录不应出现
		require.NoError(t, s.Append(ctx, &model.Notification{Recipient: identity.Seller(7), Title: "x"}))

		seen := make(map[int64]bool)
		var cursor, last int64
		pages := 0
		for {
			page, err := s.List(ctx, ListQuery{Recipient: alice, Limit: 10, Cursor: cursor})
			require.NoError(t, err)
			pages++
			for _, n := range page.Items {
				assert.False(t, seen[n.ID], "duplicate %d", n.ID)
				if last != 0 {
					assert.Less(t, n.ID, last)
				}
				last = n.ID
				seen[n.ID] = true
			}
			if !page.HasMore {
				assert.Zero(t, page.NextCursor)
				break
			}
			cursor = page.NextCursor
		}
		assert.Equal(t, 6, pages)
		assert.Equal(t, want, seen)
	})

	t.Run("ExactPageHasNoMore", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := identity.Seller(3)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Append(ctx, &model.Notification{Recipient: p, Title: "t"}))
		}
		page, err := s.List(ctx, ListQuery{Recipient: p, Limit: 5})
		require.NoError(t, err)
		assert.Len(t, page.Items, 5)
		assert.False(t, page.HasMore)

		empty, err := s.List(ctx, ListQuery{Recipient: identity.Seller(4)})
		require.NoError(t, err)
		assert.NotNil(t, empty.Items)
		assert.Empty(t, empty.Items)
	})

	t.Run("MarkReadScopedToRecipient", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		owner := identity.Buyer(11)
		n := &model.Notification{Recipient: owner, Title: "order shipped"}
		require.NoError(t, s.Append(ctx, n))

		ok, err := s.MarkRead(ctx, n.ID, identity.Buyer(12))
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = s.MarkRead(ctx, n.ID, identity.Seller(11))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.MarkRead(ctx, n.ID, owner)
		require.NoError(t, err)
		assert.True(t, ok)
		// 重复标记仍成功
		ok, err = s.MarkRead(ctx, n.ID, owner)
		require.NoError(t, err)
		assert.True(t, ok)

		unread, err := s.List(ctx, ListQuery{Recipient: owner, UnreadOnly: true})
		require.NoError(t, err)
		assert.Empty(t, unread.Items)
	})

	t.Run("ConversationIsUniquePerPair", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c1, err := s.EnsureConversation(ctx, 1, 2)
		require.NoError(t, err)
		c2, err := s.EnsureConversation(ctx, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, c1.ID, c2.ID)

		c3, err := s.EnsureConversation(ctx, 1, 3)
		require.NoError(t, err)
		assert.NotEqual(t, c1.ID, c3.ID)

		got, err := s.GetConversation(ctx, c1.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.BuyerID)
		assert.Equal(t, int64(2), got.SellerID)
	})

	t.Run("MessageReadOnlyByRecipient", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c, err := s.EnsureConversation(ctx, 5, 6)
		require.NoError(t, err)
		m := &model.ChatMessage{ConversationID: c.ID, Sender: identity.Buyer(5), Content: "hi"}
		require.NoError(t, s.AppendMessage(ctx, m))

		ok, err := s.MarkMessageRead(ctx, m.ID, identity.Buyer(5))
		require.NoError(t, err)
		assert.False(t, ok, "sender cannot mark own message")
		ok, err = s.MarkMessageRead(ctx, m.ID, identity.Seller(99))
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = s.MarkMessageRead(ctx, m.ID, identity.Seller(6))
		require.NoError(t, err)
		assert.True(t, ok)

		page, err := s.ListMessages(ctx, c.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.True(t, page.Items[0].IsRead)
	})
}

func TestMemStore(t *testing.T) {
	storeCases(t, func(*testing.T) Store { return NewMemStore() })
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("PPMALL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PPMALL_TEST_MONGO_URI not set")
	}
	storeCases(t, func(t *testing.T) Store {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{
			Uri:         uri,
			Database:    fmt.Sprintf("ppmall_test_%d", time.Now().UnixNano()),
			MaxPoolSize: 4,
			MaxRetry:    1,
		})
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = cli.GetDB().Drop(context.Background())
			_ = cli.Close(context.Background())
		})
		s := NewMongoStore(cli.GetDB(), 0)
		require.NoError(t, s.EnsureIndexes(ctx))
		return s
	})
}

func TestPaginateLimits(t *testing.T) {
	assert.Equal(t, DefaultPageSize, normLimit(0))
	assert.Equal(t, MaxPageSize, normLimit(1000))
	assert.Equal(t, 7, normLimit(7))
}
