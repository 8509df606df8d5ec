// Package testutil provides shared fixtures for relay tests: a recording
// connection, a fully wired core over the memory store, and websocket
// helpers for end-to-end tests.
package testutil

import (
	"encoding/json"
	"sync"

	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/google/uuid"
)

// Frame is a decoded outbound frame.
type Frame struct {
	Event string
	Data  json.RawMessage
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Data, v)
}

// Conn records every frame sent to it. It satisfies session.Conn.
type Conn struct {
	id string

	mu     sync.Mutex
	frames []Frame
	closed bool
}

// NewConn returns a Conn with a random id.
func NewConn() *Conn {
	return &Conn{id: uuid.NewString()}
}

// ID implements session.Conn.
func (c *Conn) ID() string { return c.id }

// Send implements session.Conn. Frames sent after Close are dropped.
func (c *Conn) Send(frame []byte) bool {
	var env protocol.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, Frame{Event: env.Event, Data: env.Data})
	return true
}

// Close implements session.Conn.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Frames returns a copy of every recorded frame.
func (c *Conn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

// Events returns the recorded frames whose event matches.
func (c *Conn) Events(event string) []Frame {
	var out []Frame
	for _, f := range c.Frames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// Reset discards recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
