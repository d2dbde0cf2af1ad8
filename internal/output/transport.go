/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed indicates delivery on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// Transport delivers envelopes to a single display target.
type Transport interface {
	Deliver(ctx context.Context, env Envelope) error
	Close() error
	Name() string
}

// ChannelTransport delivers envelopes to an in-process surface, such as the
// operator preview.
type ChannelTransport struct {
	mu     sync.RWMutex
	ch     chan Envelope
	closed bool
}

// NewChannelTransport creates a channel transport with the given buffer.
func NewChannelTransport(buffer int) *ChannelTransport {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelTransport{ch: make(chan Envelope, buffer)}
}

// C returns the receive side of the transport.
func (t *ChannelTransport) C() <-chan Envelope {
	return t.ch
}

// Deliver enqueues env, waiting for buffer space until ctx is done.
func (t *ChannelTransport) Deliver(ctx context.Context, env Envelope) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTransportClosed
	}
	select {
	case t.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel. Closing twice is safe.
func (t *ChannelTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.ch)
	}
	return nil
}

// Name identifies the transport kind.
func (t *ChannelTransport) Name() string { return "channel" }
