/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/face"
	"github.com/named-data/cosync/security"
	"github.com/named-data/cosync/wire"
	"github.com/pkg/errors"
)

// PeerTransport exposes a Store as a storage peer. Content written to it is persisted and
// acknowledged with a Known message describing what the store now holds.
type PeerTransport struct {
	name     string
	store    Store
	provider security.Provider

	mu      sync.Mutex
	replies chan []byte
	closed  chan struct{}
	once    sync.Once
	running atomic.Bool

	nInBytes  atomic.Uint64
	nOutBytes atomic.Uint64
}

// NewPeerTransport wraps a store.
func NewPeerTransport(name string, store Store, p security.Provider, queueSize int) *PeerTransport {
	t := &PeerTransport{
		name:     name,
		store:    store,
		provider: p,
		replies:  make(chan []byte, queueSize),
		closed:   make(chan struct{}),
	}
	t.running.Store(true)
	return t
}

func (t *PeerTransport) String() string {
	return fmt.Sprintf("StorageTransport, Store=%s", t.name)
}

// IsRunning implements face.Transport.
func (t *PeerTransport) IsRunning() bool {
	return t.running.Load()
}

// NInBytes implements face.Transport.
func (t *PeerTransport) NInBytes() uint64 {
	return t.nInBytes.Load()
}

// NOutBytes implements face.Transport.
func (t *PeerTransport) NOutBytes() uint64 {
	return t.nOutBytes.Load()
}

// SendFrame handles one message from the node and queues the replies. A store failure is
// returned so the peer resends the frame.
func (t *PeerTransport) SendFrame(frame []byte) error {
	if !t.IsRunning() {
		return face.ErrTransportClosed
	}
	t.nOutBytes.Add(uint64(len(frame)))

	m, err := wire.Decode(frame)
	if err != nil {
		core.LogWarn(t, "Unable to decode frame (", err, ") - DROP")
		return nil
	}

	t.mu.Lock()
	replies, err := t.handle(m)
	t.mu.Unlock()
	if err != nil {
		return err
	}

	for _, r := range replies {
		select {
		case t.replies <- wire.Encode(r):
		case <-t.closed:
			return face.ErrTransportClosed
		}
	}
	return nil
}

func (t *PeerTransport) handle(m wire.Message) ([]wire.Message, error) {
	switch msg := m.(type) {
	case *wire.Hello:
		hello, _ := wire.NewHello(nil, "", defn.PeerStorage, time.Now().UnixMilli())
		return []wire.Message{hello}, nil
	case *wire.Load:
		c := t.load(msg.Known.ID)
		if c == nil {
			return []wire.Message{notFound(msg.Known.ID)}, nil
		}
		var ret []wire.Message
		if content := c.ContentSince(msg.Known); content != nil {
			ret = append(ret, &wire.Content{Content: content})
		}
		return append(ret, &wire.Known{Known: c.KnownState()}), nil
	case *wire.Content:
		return t.put(msg.Content)
	case *wire.ReconcileBatch:
		ret := make([]wire.Message, 0, len(msg.Entries))
		for _, entry := range msg.Entries {
			if c := t.load(entry.ID); c != nil {
				ret = append(ret, &wire.Known{Known: c.KnownState()})
			} else {
				ret = append(ret, notFound(entry.ID))
			}
		}
		return ret, nil
	}
	return nil, nil
}

func notFound(id defn.ValueID) *wire.Known {
	return &wire.Known{Known: &covalue.KnownState{ID: id, Sessions: map[defn.SessionID]uint64{}}}
}

func (t *PeerTransport) load(id defn.ValueID) *covalue.Core {
	c, err := t.read(id)
	if err != nil {
		return nil
	}
	return c
}

func (t *PeerTransport) read(id defn.ValueID) (*covalue.Core, error) {
	c, err := Load(t.store, t.provider, id)
	if err != nil {
		core.LogError(t, "Unable to read ", id, ": ", err)
		return nil, err
	}
	return c, nil
}

func (t *PeerTransport) put(content *covalue.Content) ([]wire.Message, error) {
	c, err := t.read(content.ID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		if content.Header == nil {
			return []wire.Message{notFound(content.ID)}, nil
		}
		c = covalue.NewCore(t.provider, content.Header)
		if c.ID() != content.ID {
			core.LogWarn(t, "Header does not match ", content.ID, " - DROP")
			return nil, nil
		}
	}

	before := c.KnownState()
	before.Header = false
	if res := c.Merge(content.Transactions()); len(res.Rejected) > 0 {
		core.LogDebug(t, "Rejected ", len(res.Rejected), " transactions of ", content.ID)
	}
	fresh := c.ContentSince(before)
	if fresh != nil {
		if err := t.store.Put(c.ID(), c.Header(), fresh.Transactions()); err != nil {
			core.LogError(t, "Unable to persist ", c.ID(), ": ", err)
			return nil, errors.Wrapf(err, "persisting %s", c.ID())
		}
	}
	return []wire.Message{&wire.Known{Known: c.KnownState()}}, nil
}

// RunReceive delivers the replies to the node.
func (t *PeerTransport) RunReceive(deliver func(frame []byte)) {
	for {
		select {
		case frame := <-t.replies:
			t.nInBytes.Add(uint64(len(frame)))
			deliver(frame)
		case <-t.closed:
			return
		}
	}
}

// Close implements face.Transport. The store stays open.
func (t *PeerTransport) Close() {
	t.once.Do(func() {
		t.running.Store(false)
		close(t.closed)
	})
}
