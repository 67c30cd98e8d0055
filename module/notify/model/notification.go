package model

import (
	"time"

	"PPMall/module/identity"
)

const (
	NotificationCollection = "notification"

	NotificationFieldID        = "_id"
	NotificationFieldRecipient = "recipient"
	NotificationFieldRole      = "recipient.role"
	NotificationFieldUserID    = "recipient.id"
	NotificationFieldKind      = "kind"
	NotificationFieldIsRead    = "is_read"
	NotificationFieldCreatedAt = "created_at"
)

// Notification 一条持久化通知；_id 为雪花ID，按时间单调，用作分页游标
type Notification struct {
	ID        int64              `bson:"_id" json:"id,string"`
	Recipient identity.Principal `bson:"recipient" json:"recipient"`
	Kind      string             `bson:"kind" json:"kind"`
	Title     string             `bson:"title" json:"title"`
	Body      string             `bson:"body" json:"body"`
	Data      map[string]any     `bson:"data,omitempty" json:"data,omitempty"`
	IsRead    bool               `bson:"is_read" json:"is_read"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

func (n Notification) Cursor() int64 { return n.ID }
