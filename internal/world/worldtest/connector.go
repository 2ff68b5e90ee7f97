package worldtest

import (
	"context"
	"sync"

	"voxelagent.ai/internal/world"
)

// Connector hands out fake sessions and remembers every one it opened.
type Connector struct {
	// Setup, when set, scripts each new session before it is returned.
	Setup func(*Session)

	mu       sync.Mutex
	err      error
	gate     *hold
	sessions []*Session
	params   []world.ConnectParams
}

// FailNext makes the next Connect return err.
func (c *Connector) FailNext(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// HoldNext makes the next Connect block until release is called or its
// context ends. entered is closed once the call is blocked.
func (c *Connector) HoldNext() (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	c.mu.Lock()
	c.gate = h
	c.mu.Unlock()
	return h.entered, func() { close(h.release) }
}

func (c *Connector) Connect(ctx context.Context, p world.ConnectParams) (world.Session, error) {
	c.mu.Lock()
	h := c.gate
	c.gate = nil
	c.mu.Unlock()
	if h != nil {
		h.once.Do(func() { close(h.entered) })
		select {
		case <-h.release:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.err; err != nil {
		c.err = nil
		return nil, err
	}
	s := New(p.Username)
	if c.Setup != nil {
		c.Setup(s)
	}
	c.sessions = append(c.sessions, s)
	c.params = append(c.params, p)
	return s, nil
}

// Sessions returns every session opened so far, oldest first.
func (c *Connector) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Session(nil), c.sessions...)
}

// Last returns the most recent session, or nil.
func (c *Connector) Last() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sessions) == 0 {
		return nil
	}
	return c.sessions[len(c.sessions)-1]
}

func (c *Connector) Params() []world.ConnectParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]world.ConnectParams(nil), c.params...)
}

// Open counts sessions that have not been closed.
func (c *Connector) Open() int {
	n := 0
	for _, s := range c.Sessions() {
		if !s.Closed() {
			n++
		}
	}
	return n
}
