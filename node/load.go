/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package node

import (
	"context"

	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/face"
	"github.com/named-data/cosync/wire"
)

// LoadStatus is the outcome of a load.
type LoadStatus int

const (
	// Loaded means the value is held locally and readable.
	Loaded LoadStatus = iota
	// Pending means the value may exist but could not be read yet.
	Pending
	// Unavailable means no peer has the value.
	Unavailable
)

func (s LoadStatus) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Pending:
		return "pending"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// LoadResult is the result of Node.Load. State is set only when the value is Loaded.
type LoadResult struct {
	Status LoadStatus
	ID     defn.ValueID
	State  covalue.State
}

type fetchResult int

const (
	fetchFound fetchResult = iota
	fetchNotFound
	fetchTimeout
)

func (r fetchResult) String() string {
	switch r {
	case fetchFound:
		return "found"
	case fetchNotFound:
		return "not found"
	}
	return "timed out"
}

// pendingLoad tracks the peers asked for a value that are yet to answer.
type pendingLoad struct {
	waiting  map[defn.PeerID]struct{}
	found    bool
	finished bool
	done     chan struct{}
}

func newPendingLoad(peers []*face.Peer) *pendingLoad {
	l := &pendingLoad{waiting: make(map[defn.PeerID]struct{}, len(peers)), done: make(chan struct{})}
	for _, p := range peers {
		l.waiting[p.ID()] = struct{}{}
	}
	return l
}

func (l *pendingLoad) finish() {
	if !l.finished {
		l.finished = true
		close(l.done)
	}
}

// answered records that peer does not have the value and reports whether nobody is left to ask.
func (l *pendingLoad) answered(peer defn.PeerID) bool {
	if _, ok := l.waiting[peer]; !ok {
		return false
	}
	delete(l.waiting, peer)
	if len(l.waiting) == 0 {
		l.finish()
		return true
	}
	return false
}

func (n *Node) loadAnswered(id defn.ValueID, peer defn.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if l := n.loads[id]; l != nil && l.answered(peer) {
		delete(n.loads, id)
	}
}

func (n *Node) loadFound(id defn.ValueID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if l := n.loads[id]; l != nil {
		l.found = true
		l.finish()
		delete(n.loads, id)
	}
}

// fetch asks peers for a value we do not hold and waits until it arrives, every peer answered
// that it does not have it, or ctx ends. Concurrent fetches of one value share the requests.
func (n *Node) fetch(ctx context.Context, id defn.ValueID, peers []*face.Peer) fetchResult {
	if len(peers) == 0 {
		return fetchNotFound
	}

	n.mu.Lock()
	l, shared := n.loads[id]
	if !shared {
		l = newPendingLoad(peers)
		n.loads[id] = l
	}
	n.mu.Unlock()

	if !shared {
		for _, p := range peers {
			p.Send(&wire.Load{Known: &covalue.KnownState{ID: id, Sessions: map[defn.SessionID]uint64{}}})
		}
	}

	select {
	case <-l.done:
	case <-ctx.Done():
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case l.found:
		return fetchFound
	case l.finished:
		return fetchNotFound
	}
	if n.loads[id] == l {
		delete(n.loads, id)
	}
	return fetchTimeout
}

// Load returns the value with the given id as this node's account sees it. A value held
// locally and readable is Loaded right away; otherwise every connected peer is asked. The
// value is Unavailable once all of them answered that they do not have it, and Pending when
// ctx ends first or the account cannot read it.
func (n *Node) Load(ctx context.Context, id defn.ValueID) LoadResult {
	res := LoadResult{ID: id, Status: Pending}
	c := n.values.Lookup(id)
	if c == nil {
		switch n.fetch(ctx, id, n.peers.All()) {
		case fetchNotFound:
			res.Status = Unavailable
			return res
		case fetchTimeout:
			return res
		}
		if c = n.values.Lookup(id); c == nil {
			return res
		}
	}

	n.loadGroups(ctx, c, n.peers.All())
	if !n.readable(c) {
		core.LogDebug(n, "Cannot read ", id, " yet")
		return res
	}
	res.Status = Loaded
	res.State = n.view(c)
	return res
}

// loadGroups fetches from peers the groups governing c that are not held: its owner and every
// group the owner inherits from.
func (n *Node) loadGroups(ctx context.Context, c *covalue.Core, peers []*face.Peer) {
	var queue []defn.ValueID
	switch c.Kind() {
	case covalue.KindAccount:
		return
	case covalue.KindGroup:
		for _, e := range c.State().(*covalue.GroupState).Parents() {
			queue = append(queue, e.Parent)
		}
	default:
		queue = append(queue, c.Header().Owner)
	}

	seen := map[defn.ValueID]struct{}{c.ID(): {}}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok || !id.IsValid() {
			continue
		}
		seen[id] = struct{}{}

		g := n.values.Lookup(id)
		if g == nil {
			if n.fetch(ctx, id, peers) != fetchFound {
				continue
			}
			if g = n.values.Lookup(id); g == nil {
				continue
			}
		}
		if g.Kind() == covalue.KindGroup {
			for _, e := range g.State().(*covalue.GroupState).Parents() {
				queue = append(queue, e.Parent)
			}
		}
	}
}

// readable reports whether this node's account may see anything of c. Write-only members
// see their own transactions.
func (n *Node) readable(c *covalue.Core) bool {
	if c.Kind() == covalue.KindGroup || c.Kind() == covalue.KindAccount {
		return true
	}
	role := n.resolver.RoleOf(defn.Me, c.ID())
	if role.CanRead() || role == defn.RoleWriteOnly {
		return true
	}
	for _, e := range c.Entries() {
		if n.resolver.CanReadTx(defn.Me, c.ID(), e) {
			return true
		}
	}
	return false
}

func (n *Node) view(c *covalue.Core) covalue.State {
	switch c.Kind() {
	case covalue.KindGroup:
		return c.State()
	case covalue.KindAccount:
		id := c.ID()
		return c.View(func(e covalue.Entry) bool { return e.Tx.Author() == id })
	}
	return c.View(n.resolver.ViewFilter(defn.Me, c.ID()))
}

// View returns the current local view of a value, or nil if it is not held.
func (n *Node) View(id defn.ValueID) covalue.State {
	c := n.values.Lookup(id)
	if c == nil {
		return nil
	}
	return n.view(c)
}
