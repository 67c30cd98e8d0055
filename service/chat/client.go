package chat

import (
	"sync"
	"time"

	"PPMall/module/identity"
)

// Client 一条 websocket 连接在本进程内的句柄。
// 同一 principal 可以有多条连接（多端），各自独立维护。
type Client struct {
	ConnID    string // 本网关内唯一
	Principal identity.Principal
	CreatedAt time.Time

	send      chan []byte // 出站队列，由唯一的写协程消费
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()

	mu        sync.Mutex
	heartbeat time.Time
}

// NewClient onClose 负责关闭底层 socket，只会被调用一次
func NewClient(connID string, p identity.Principal, queueSize int, onClose func()) *Client {
	if queueSize <= 0 {
		queueSize = 64
	}
	now := time.Now()
	return &Client{
		ConnID:    connID,
		Principal: p,
		CreatedAt: now,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
		onClose:   onClose,
		heartbeat: now,
	}
}

// Outbound 写协程读取待发送的帧
func (c *Client) Outbound() <-chan []byte { return c.send }

// Done 连接关闭后可读
func (c *Client) Done() <-chan struct{} { return c.done }

// Close 幂等
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// enqueue 非阻塞入队；队列满或已关闭返回 false
func (c *Client) enqueue(frame []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	c.heartbeat = now
	c.mu.Unlock()
}

func (c *Client) lastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeat
}
