/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package face

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/named-data/cosync/core"
	"github.com/pkg/errors"
)

// WebSocketTransport carries sync frames as binary WebSocket messages.
type WebSocketTransport struct {
	transportBase
	c       *websocket.Conn
	writeMu sync.Mutex
}

// NewWebSocketTransport wraps an established connection.
func NewWebSocketTransport(c *websocket.Conn) (t *WebSocketTransport) {
	t = &WebSocketTransport{c: c}
	t.makeTransportBase(c.RemoteAddr().String())
	c.SetReadLimit(int64(maxFrameSize))
	return t
}

// DialWebSocket connects to a listening node.
func DialWebSocket(ctx context.Context, remote string, header http.Header) (*WebSocketTransport, error) {
	u, err := url.Parse(remote)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, errors.Wrapf(core.ErrNotCanonical, "%q", remote)
	}
	c, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", remote)
	}
	return NewWebSocketTransport(c), nil
}

func (t *WebSocketTransport) String() string {
	return fmt.Sprintf("WebSocketTransport, Remote=%s", t.remote)
}

// SendFrame implements Transport.
func (t *WebSocketTransport) SendFrame(frame []byte) error {
	if !t.IsRunning() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	e := t.c.WriteMessage(websocket.BinaryMessage, frame)
	t.writeMu.Unlock()
	if e != nil {
		return errors.Wrap(e, "write")
	}

	t.nOutBytes.Add(uint64(len(frame)))
	return nil
}

// RunReceive implements Transport.
func (t *WebSocketTransport) RunReceive(deliver func(frame []byte)) {
	defer t.Close()

	for {
		mt, message, e := t.c.ReadMessage()
		if e != nil {
			if websocket.IsCloseError(e, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// gracefully closed
			} else if t.IsRunning() {
				core.LogWarn(t, "Unable to read from WebSocket (", e, ") - Peer DOWN")
			}
			return
		}

		if mt != websocket.BinaryMessage {
			core.LogWarn(t, "Ignored non-binary message")
			continue
		}

		t.nInBytes.Add(uint64(len(message)))
		deliver(message)
	}
}

// Close implements Transport.
func (t *WebSocketTransport) Close() {
	if !t.running.Swap(false) {
		return
	}
	t.writeMu.Lock()
	t.c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	t.c.Close()
}
