/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package face

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/named-data/cosync/core"
	"github.com/pkg/errors"
)

// WebSocketListenerConfig contains WebSocketListener configuration.
type WebSocketListenerConfig struct {
	Bind       string
	Port       uint16
	TLSEnabled bool
	TLSCert    string
	TLSKey     string
}

// WebSocketListener listens for incoming WebSockets connections.
type WebSocketListener struct {
	server   http.Server
	upgrader websocket.Upgrader
	localURL *url.URL
	accept   func(t *WebSocketTransport, r *http.Request)

	mu       sync.Mutex
	listener net.Listener
}

func (cfg WebSocketListenerConfig) URL() *url.URL {
	addr := net.JoinHostPort(cfg.Bind, strconv.FormatUint(uint64(cfg.Port), 10))
	u := &url.URL{
		Scheme: "ws",
		Host:   addr,
	}
	if cfg.TLSEnabled {
		u.Scheme = "wss"
	}
	return u
}

func (cfg WebSocketListenerConfig) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "WebSocket listener at %s", cfg.URL())
	if cfg.TLSEnabled {
		fmt.Fprintf(&b, " with TLS cert %s and key %s", cfg.TLSCert, cfg.TLSKey)
	}
	return b.String()
}

// NewWebSocketListener creates a listener that hands every accepted connection to accept.
func NewWebSocketListener(cfg WebSocketListenerConfig, accept func(t *WebSocketTransport, r *http.Request)) (*WebSocketListener, error) {
	localURL := cfg.URL()
	ret := &WebSocketListener{
		server: http.Server{Addr: localURL.Host},
		upgrader: websocket.Upgrader{
			WriteBufferPool: &sync.Pool{},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		localURL: localURL,
		accept:   accept,
	}
	if cfg.TLSEnabled {
		cert, e := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if e != nil {
			return nil, errors.Wrapf(e, "tls.LoadX509KeyPair(%s %s)", cfg.TLSCert, cfg.TLSKey)
		}
		ret.server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	ret.server.Handler = http.HandlerFunc(ret.handler)
	return ret, nil
}

func (l *WebSocketListener) String() string {
	return "WebSocketListener, " + l.localURL.String()
}

// Listen binds the socket. Run calls it if needed.
func (l *WebSocketListener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", l.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", l.server.Addr)
	}
	l.listener = ln
	l.localURL.Host = ln.Addr().String()
	return nil
}

// URL returns the address clients should dial, once listening.
func (l *WebSocketListener) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.localURL.String()
}

// Run serves until Close.
func (l *WebSocketListener) Run() {
	if err := l.Listen(); err != nil {
		core.LogFatal(l, "Unable to start listener: ", err)
		return
	}
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()

	var err error
	if l.server.TLSConfig == nil {
		err = l.server.Serve(ln)
	} else {
		err = l.server.ServeTLS(ln, "", "")
	}
	if !errors.Is(err, http.ErrServerClosed) {
		core.LogFatal(l, "Unable to start listener: ", err)
	}
}

func (l *WebSocketListener) handler(w http.ResponseWriter, r *http.Request) {
	if core.ShouldQuit {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	c, e := l.upgrader.Upgrade(w, r, nil)
	if e != nil {
		return
	}

	newTransport := NewWebSocketTransport(c)
	core.LogInfo(l, "Accepting new WebSocket peer ", newTransport.Remote())
	l.accept(newTransport, r)
}

// Close stops accepting connections.
func (l *WebSocketListener) Close() {
	core.LogInfo(l, "Stopping listener")
	l.server.Shutdown(context.TODO())
}
