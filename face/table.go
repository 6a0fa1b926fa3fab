/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package face

import (
	"sort"
	"sync"

	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/defn"
	"golang.org/x/exp/maps"
)

// Table holds the peers of a node.
type Table struct {
	peers map[defn.PeerID]*Peer
	mutex sync.RWMutex
}

// NewTable creates an empty peer table.
func NewTable() *Table {
	return &Table{peers: make(map[defn.PeerID]*Peer)}
}

// Add adds a peer to the table.
func (t *Table) Add(p *Peer) {
	t.mutex.Lock()
	t.peers[p.ID()] = p
	t.mutex.Unlock()

	core.LogDebug("PeerTable", "Registered ", p.ID())
}

// Get gets the peer with the specified ID from the table.
func (t *Table) Get(id defn.PeerID) *Peer {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.peers[id]
}

// Remove removes a peer from the table and reports whether it was present.
func (t *Table) Remove(id defn.PeerID) bool {
	t.mutex.Lock()
	_, ok := t.peers[id]
	delete(t.peers, id)
	t.mutex.Unlock()

	if ok {
		core.LogDebug("PeerTable", "Unregistered ", id)
	}
	return ok
}

// All returns the peers sorted by id.
func (t *Table) All() []*Peer {
	t.mutex.RLock()
	ids := maps.Keys(t.peers)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ret := make([]*Peer, len(ids))
	for i, id := range ids {
		ret[i] = t.peers[id]
	}
	t.mutex.RUnlock()
	return ret
}

// Upstream returns the server and storage peers sorted by id.
func (t *Table) Upstream() []*Peer {
	var ret []*Peer
	for _, p := range t.All() {
		if p.Role().IsUpstream() {
			ret = append(ret, p)
		}
	}
	return ret
}

// Len returns the number of peers.
func (t *Table) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.peers)
}
