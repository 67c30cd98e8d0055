package api

import (
	"net/http"

	"PPMall/module/identity"
	"PPMall/module/notify"
	"PPMall/tools/errs"

	"github.com/gin-gonic/gin"
)

// ListNotifications GET /api/notifications?limit&cursor&unread_only
func (s *Server) ListNotifications(c *gin.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	limit, err := queryInt64(c, "limit", notify.DefaultPageSize)
	if err != nil {
		return err
	}
	cursor, err := queryInt64(c, "cursor", 0)
	if err != nil {
		return err
	}
	unread, err := queryBool(c, "unread_only")
	if err != nil {
		return err
	}
	page, err := s.Notify.List(c.Request.Context(), notify.ListQuery{
		Recipient:  p,
		Limit:      int(limit),
		Cursor:     cursor,
		UnreadOnly: unread,
	})
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, page)
	return nil
}

// MarkNotificationRead 别人的通知按不存在处理
func (s *Server) MarkNotificationRead(c *gin.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := paramInt64(c, "id")
	if err != nil {
		return err
	}
	ok, err := s.Notify.MarkRead(c.Request.Context(), id, p)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("notification", "id", id)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
	return nil
}

func (s *Server) ListMessages(c *gin.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	convID, err := paramInt64(c, "id")
	if err != nil {
		return err
	}
	limit, err := queryInt64(c, "limit", notify.DefaultPageSize)
	if err != nil {
		return err
	}
	cursor, err := queryInt64(c, "cursor", 0)
	if err != nil {
		return err
	}
	page, err := s.Chat.History(c.Request.Context(), convID, p, int(limit), cursor)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, page)
	return nil
}

type sendMessageReq struct {
	To      identity.Principal `json:"to"`
	Content string             `json:"content"`
}

func (s *Server) SendMessage(c *gin.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		return errs.ErrArgs.WrapMsg("bad body", "err", err)
	}
	msg, err := s.Chat.Send(c.Request.Context(), p, req.To, req.Content)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, msg)
	return nil
}

func (s *Server) MarkMessageRead(c *gin.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := paramInt64(c, "id")
	if err != nil {
		return err
	}
	if err := s.Chat.MarkRead(c.Request.Context(), id, p); err != nil {
		return err
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
	return nil
}
