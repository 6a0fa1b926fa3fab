/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package face

import (
	"fmt"
	"sync"
)

// MemoryTransport is one end of an in-process pipe. Closing either end closes both.
type MemoryTransport struct {
	transportBase
	in  <-chan []byte
	out chan<- []byte

	peer      *MemoryTransport
	closed    chan struct{}
	closeOnce *sync.Once
}

// NewMemoryPipe returns two connected transports.
func NewMemoryPipe(nameA, nameB string) (*MemoryTransport, *MemoryTransport) {
	ab := make(chan []byte, memoryQueueSize)
	ba := make(chan []byte, memoryQueueSize)
	closed := make(chan struct{})
	once := &sync.Once{}

	a := &MemoryTransport{in: ba, out: ab, closed: closed, closeOnce: once}
	a.makeTransportBase(nameB)
	b := &MemoryTransport{in: ab, out: ba, closed: closed, closeOnce: once}
	b.makeTransportBase(nameA)
	a.peer = b
	b.peer = a
	return a, b
}

func (t *MemoryTransport) String() string {
	return fmt.Sprintf("MemoryTransport, Remote=%s", t.remote)
}

// SendFrame implements Transport.
func (t *MemoryTransport) SendFrame(frame []byte) error {
	if !t.IsRunning() {
		return ErrTransportClosed
	}
	select {
	case t.out <- frame:
		t.nOutBytes.Add(uint64(len(frame)))
		return nil
	case <-t.closed:
		return ErrTransportClosed
	}
}

// RunReceive implements Transport.
func (t *MemoryTransport) RunReceive(deliver func(frame []byte)) {
	for {
		select {
		case frame := <-t.in:
			t.nInBytes.Add(uint64(len(frame)))
			deliver(frame)
		case <-t.closed:
			return
		}
	}
}

// Close implements Transport.
func (t *MemoryTransport) Close() {
	t.closeOnce.Do(func() {
		t.running.Store(false)
		t.peer.running.Store(false)
		close(t.closed)
	})
}
