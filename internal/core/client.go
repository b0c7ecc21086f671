package core

import "sync"

// SessionState is the lifecycle state of a client session.
type SessionState int

const (
	// StateConnected means the connection exists but has not registered.
	StateConnected SessionState = iota
	// StateRegistered means the connection is bound to an identity.
	StateRegistered
	// StateClosed is terminal.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	commandBuffer = 16
	eventBuffer   = 64
)

// Client is a live connection handle as seen by the core layer.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	identity string
	state    SessionState
}

// NewClient constructs a client with initialized channels.
func NewClient(id string) *Client {
	return &Client{
		ID:       id,
		Commands: make(chan *Command, commandBuffer),
		Events:   make(chan *Event, eventBuffer),
		done:     make(chan struct{}),
		state:    StateConnected,
	}
}

// Identity returns the identity the session registered, or "".
func (c *Client) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// State returns the current session state.
func (c *Client) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed once the connection goes away.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close marks the connection as gone. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) setRegistered(identity string) {
	c.mu.Lock()
	c.identity = identity
	c.state = StateRegistered
	c.mu.Unlock()
}

func (c *Client) setClosed() {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

// send enqueues an event without blocking. It reports false when the
// connection is gone or its buffer is full.
func (c *Client) send(ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}
