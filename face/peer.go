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
	"sync"
	"sync/atomic"
	"time"

	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/utils/comparison"
	"github.com/named-data/cosync/wire"
)

// Handler receives what arrives on a peer.
type Handler interface {
	HandleMessage(p *Peer, m wire.Message)
	PeerClosed(p *Peer)
}

// Peer is a sync connection: a transport, a fixed role and a priority queue of outgoing messages.
type Peer struct {
	id        defn.PeerID
	role      defn.PeerRole
	transport Transport
	queue     *PriorityQueue

	mu      sync.RWMutex
	account defn.AccountID
	hello   bool

	handler  Handler
	stopped  chan struct{}
	once     sync.Once
	inflight atomic.Int32
	wg       sync.WaitGroup

	nInMessages  atomic.Uint64
	nOutMessages atomic.Uint64
}

// NewPeer creates a peer over t. The role is the role of the remote end.
func NewPeer(id defn.PeerID, role defn.PeerRole, t Transport) *Peer {
	return &Peer{
		id:        id,
		role:      role,
		transport: t,
		queue:     NewPriorityQueue(role.String()),
		stopped:   make(chan struct{}),
	}
}

func (p *Peer) String() string {
	return fmt.Sprintf("Peer, ID=%s, Role=%s, %s", p.id, p.role, p.transport)
}

// ID returns the peer id.
func (p *Peer) ID() defn.PeerID {
	return p.id
}

// Role returns the role of the remote end.
func (p *Peer) Role() defn.PeerRole {
	return p.role
}

// Queue returns the outgoing queue.
func (p *Peer) Queue() *PriorityQueue {
	return p.queue
}

// Transport returns the transport of the peer.
func (p *Peer) Transport() Transport {
	return p.transport
}

// RemoteAccount returns the account authenticated by the remote hello, and whether a hello arrived.
func (p *Peer) RemoteAccount() (defn.AccountID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.account, p.hello
}

// SetRemoteAccount records the authenticated account of the remote end.
func (p *Peer) SetRemoteAccount(account defn.AccountID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account = account
	p.hello = true
}

// Run starts the send and receive goroutines.
func (p *Peer) Run(h Handler) {
	p.handler = h
	p.wg.Add(2)
	go p.runSend()
	go p.runReceive()
}

// Send queues a message for the remote end.
func (p *Peer) Send(m wire.Message) *Handle {
	return p.queue.Enqueue(m)
}

// Closed is closed once the peer stopped.
func (p *Peer) Closed() <-chan struct{} {
	return p.stopped
}

// HasQuit reports whether the peer stopped.
func (p *Peer) HasQuit() bool {
	select {
	case <-p.stopped:
		return true
	default:
		return false
	}
}

// NInMessages returns the number of messages received.
func (p *Peer) NInMessages() uint64 {
	return p.nInMessages.Load()
}

// NOutMessages returns the number of messages sent.
func (p *Peer) NOutMessages() uint64 {
	return p.nOutMessages.Load()
}

// Flush waits until every queued message has been written, or ctx ends.
func (p *Peer) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.queue.Len() == 0 && p.inflight.Load() == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-p.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the peer. Queued messages are discarded.
func (p *Peer) Close() {
	p.once.Do(func() {
		core.LogInfo(p, "Closing")
		close(p.stopped)
		p.queue.Close()
		p.transport.Close()
		if p.handler != nil {
			p.handler.PeerClosed(p)
		}
	})
}

// Wait blocks until the peer goroutines exited.
func (p *Peer) Wait() {
	p.wg.Wait()
}

func (p *Peer) runSend() {
	defer p.wg.Done()
	for {
		select {
		case <-p.queue.Ready():
		case <-p.stopped:
			return
		}

		for {
			if p.HasQuit() {
				return
			}
			p.inflight.Add(1)
			entry, ok := p.queue.Dequeue()
			if !ok {
				p.inflight.Add(-1)
				break
			}
			ok = p.sendWithRetry(wire.Encode(entry.Message))
			p.inflight.Add(-1)
			if !ok {
				entry.Finish(ErrSendFailed)
				core.LogWarn(p, "Unable to send after ", sendRetries, " retries - Peer DOWN")
				p.Close()
				return
			}
			p.nOutMessages.Add(1)
			entry.Finish(nil)
		}
	}
}

// sendWithRetry writes a frame, backing off exponentially between attempts.
func (p *Peer) sendWithRetry(frame []byte) bool {
	delay := retryBaseDelay
	for attempt := 0; ; attempt++ {
		err := p.transport.SendFrame(frame)
		if err == nil {
			return true
		}
		if err == ErrTransportClosed || attempt >= sendRetries {
			return false
		}
		core.LogDebug(p, "Send failed (", err, "), retrying in ", delay)
		select {
		case <-time.After(delay):
		case <-p.stopped:
			return false
		}
		delay = comparison.Min(delay*2, retryMaxDelay)
	}
}

func (p *Peer) runReceive() {
	defer p.wg.Done()
	p.transport.RunReceive(func(frame []byte) {
		m, err := wire.Decode(frame)
		if err != nil {
			core.LogWarn(p, "Unable to decode frame (", err, ") - DROP")
			return
		}
		p.nInMessages.Add(1)
		if p.handler != nil {
			p.handler.HandleMessage(p, m)
		}
	})
	p.Close()
}
