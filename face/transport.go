/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package face

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrTransportClosed is returned when writing to a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// Transport moves frames between two peers. One frame carries one sync message.
type Transport interface {
	String() string

	// SendFrame writes one frame. An error is reported back so the peer can retry.
	SendFrame(frame []byte) error
	// RunReceive delivers incoming frames until the transport closes.
	RunReceive(deliver func(frame []byte))

	IsRunning() bool
	Close()

	NInBytes() uint64
	NOutBytes() uint64
}

// transportBase provides logic common to transport types.
type transportBase struct {
	remote  string
	running atomic.Bool

	nInBytes  atomic.Uint64
	nOutBytes atomic.Uint64
}

func (t *transportBase) makeTransportBase(remote string) {
	t.remote = remote
	t.running.Store(true)
}

// Remote returns a description of the other end.
func (t *transportBase) Remote() string {
	return t.remote
}

// IsRunning returns whether the transport is running.
func (t *transportBase) IsRunning() bool {
	return t.running.Load()
}

// NInBytes returns the number of bytes received.
func (t *transportBase) NInBytes() uint64 {
	return t.nInBytes.Load()
}

// NOutBytes returns the number of bytes sent.
func (t *transportBase) NOutBytes() uint64 {
	return t.nOutBytes.Load()
}
