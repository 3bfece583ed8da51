package realtime

import (
	"sync"
	"sync/atomic"

	v1 "konnect/shared/contracts/live/v1"
)

// Client is one subscriber of the live channel, usually a WebSocket session.
//
// Send is never closed by the server; broadcasters only ever Offer into it.
// Shutdown is signalled through Done.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	dropped   atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Offer enqueues env without blocking. It returns false when the client is
// closing or its queue is full; the frame is then lost for this client only.
func (c *Client) Offer(env v1.Envelope) bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		c.dropped.Add(1)
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped reports how many offers this client has refused.
func (c *Client) Dropped() int64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}

// Done is closed once the client starts shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close is idempotent. Send stays open.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}
