/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"sync"

	ws "nhooyr.io/websocket"
)

// WSTransport delivers envelopes over a websocket held by an output window.
type WSTransport struct {
	conn *ws.Conn

	mu     sync.Mutex
	closed bool
}

// NewWSTransport wraps an accepted websocket connection.
func NewWSTransport(conn *ws.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

// Deliver writes env as a single text frame.
func (t *WSTransport) Deliver(ctx context.Context, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	return t.conn.Write(ctx, ws.MessageText, data)
}

// Close closes the websocket with a normal closure.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close(ws.StatusNormalClosure, "target unregistered")
}

// Name identifies the transport kind.
func (t *WSTransport) Name() string { return "websocket" }
