package agent

import (
	"sync"
	"time"
)

type ConnState string

const (
	Disconnected ConnState = "disconnected"
	Connecting   ConnState = "connecting"
	Connected    ConnState = "connected"
)

// Status is the operator-visible state of the agent.
type Status struct {
	ConnectionState ConnState `json:"connectionState"`
	LastError       string    `json:"lastError,omitempty"`
	CurrentAction   string    `json:"currentAction,omitempty"`
	Danger          bool      `json:"danger"`
}

// statusBoard guards Status. Each field has a single writer: the lifecycle
// manager owns ConnectionState, the executor owns CurrentAction and the
// reflex engine owns Danger.
type statusBoard struct {
	mu sync.RWMutex
	s  Status

	onConn   func(ConnState)
	onDanger func(bool)
}

func newStatusBoard() *statusBoard {
	return &statusBoard{s: Status{ConnectionState: Disconnected}}
}

func (b *statusBoard) get() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.s
}

func (b *statusBoard) setConn(c ConnState) {
	b.mu.Lock()
	b.s.ConnectionState = c
	b.mu.Unlock()
	if b.onConn != nil {
		b.onConn(c)
	}
}

func (b *statusBoard) setLastError(msg string) {
	b.mu.Lock()
	b.s.LastError = msg
	b.mu.Unlock()
}

func (b *statusBoard) setAction(desc string) {
	b.mu.Lock()
	b.s.CurrentAction = desc
	b.mu.Unlock()
}

func (b *statusBoard) currentAction() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.s.CurrentAction
}

func (b *statusBoard) setDanger(on bool) {
	b.mu.Lock()
	b.s.Danger = on
	b.mu.Unlock()
	if b.onDanger != nil {
		b.onDanger(on)
	}
}

func (b *statusBoard) danger() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.s.Danger
}

type ChatEntry struct {
	Speaker   string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	DefaultChatCapacity = 50
	DefaultRecentChat   = 20
)

// ChatLog is a bounded ring of chat lines; the oldest entry is evicted first.
type ChatLog struct {
	mu    sync.Mutex
	buf   []ChatEntry
	start int
	n     int
}

func NewChatLog(capacity int) *ChatLog {
	if capacity <= 0 {
		capacity = DefaultChatCapacity
	}
	return &ChatLog{buf: make([]ChatEntry, capacity)}
}

func (c *ChatLog) Append(e ChatEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n < len(c.buf) {
		c.buf[(c.start+c.n)%len(c.buf)] = e
		c.n++
		return
	}
	c.buf[c.start] = e
	c.start = (c.start + 1) % len(c.buf)
}

// All returns the retained entries in arrival order.
func (c *ChatLog) All() []ChatEntry {
	return c.Recent(0)
}

// Recent returns the last n entries in arrival order; n <= 0 means all.
func (c *ChatLog) Recent(n int) []ChatEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > c.n {
		n = c.n
	}
	out := make([]ChatEntry, 0, n)
	for i := c.n - n; i < c.n; i++ {
		out = append(out, c.buf[(c.start+i)%len(c.buf)])
	}
	return out
}

func (c *ChatLog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
