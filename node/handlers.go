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

// HandleMessage implements face.Handler. Hellos are handled inline; everything else runs on
// the sync thread of the value it concerns.
func (n *Node) HandleMessage(p *face.Peer, m wire.Message) {
	switch msg := m.(type) {
	case *wire.Hello:
		n.handleHello(p, msg)
	case *wire.Load:
		n.dispatch(msg.Known.ID, func() { n.handleLoad(p, msg.Known) })
	case *wire.Known:
		n.dispatch(msg.Known.ID, func() { n.handleKnown(p, msg.Known) })
	case *wire.Content:
		n.dispatch(msg.Content.ID, func() { n.handleContent(p, msg.Content) })
	case *wire.ReconcileBatch:
		core.LogDebug(n, "Received ", msg.Batch, " with ", len(msg.Entries), " values from ", p.ID())
		for _, entry := range msg.Entries {
			entry := entry
			n.dispatch(entry.ID, func() { n.handleReconcileEntry(p, entry) })
		}
	default:
		core.LogWarn(n, "Unexpected ", m.Type(), " from ", p.ID(), " - DROP")
	}
}

func (n *Node) handleHello(p *face.Peer, hello *wire.Hello) {
	if err := hello.Verify(n.provider); err != nil {
		core.LogWarn(n, "Rejecting ", p.ID(), ": ", err)
		p.Close()
		return
	}
	p.SetRemoteAccount(hello.Account)
	if hello.IsTransient() {
		core.LogDebug(n, "Peer ", p.ID(), " is transient")
	} else {
		core.LogInfo(n, "Peer ", p.ID(), " authenticated as ", hello.Account)
	}
}

func (n *Node) handleLoad(p *face.Peer, known *covalue.KnownState) {
	id := known.ID
	if !p.Role().IsUpstream() {
		n.subscribe(p, id)
	}
	if known.Header {
		n.recordKnown(p, known)
	}

	if n.values.Lookup(id) == nil && !p.Role().IsUpstream() {
		if upstream := n.upstreamExcept(p); len(upstream) > 0 {
			n.relayLoad(p, known, upstream)
			return
		}
	}
	n.replyLoad(p, known)
}

// relayLoad asks our own upstream peers for a value a client wants, and answers the client
// once they did.
func (n *Node) relayLoad(p *face.Peer, known *covalue.KnownState, upstream []*face.Peer) {
	n.bg.Add(1)
	go func() {
		defer n.bg.Done()
		ctx, cancel := context.WithTimeout(n.ctx, relayTimeout)
		res := n.fetch(ctx, known.ID, upstream)
		if c := n.values.Lookup(known.ID); c != nil {
			n.loadGroups(ctx, c, upstream)
		}
		cancel()
		core.LogDebug(n, "Relayed load of ", known.ID, " for ", p.ID(), ": ", res)
		n.dispatch(known.ID, func() { n.replyLoad(p, known) })
	}()
}

func (n *Node) replyLoad(p *face.Peer, known *covalue.KnownState) {
	c := n.values.Lookup(known.ID)
	if c == nil {
		p.Send(notFound(known.ID))
		return
	}
	n.push(p, c, true)
	p.Send(&wire.Known{Known: n.knownFor(p, c)})
}

func (n *Node) handleKnown(p *face.Peer, known *covalue.KnownState) {
	id := known.ID
	c := n.values.Lookup(id)

	if !known.Header {
		n.loadAnswered(id, p.ID())
		if c != nil && p.Role().IsUpstream() {
			n.forget(p, id)
			n.push(p, c, true)
		}
		return
	}

	n.recordKnown(p, known)
	if c == nil {
		return
	}
	ours := c.KnownState()
	if known.Covers(ours) {
		n.complete(p.ID(), id)
	} else {
		n.push(p, c, true)
	}
	if p.Role().IsUpstream() && !ours.Covers(known) {
		n.request(p, ours)
	}
}

func (n *Node) handleContent(p *face.Peer, content *covalue.Content) {
	id := content.ID
	c := n.values.Lookup(id)
	created := false
	if c == nil {
		if content.Header == nil {
			core.LogDebug(n, "Content for unknown ", id, " without header - requesting")
			p.Send(&wire.Load{Known: &covalue.KnownState{ID: id, Sessions: map[defn.SessionID]uint64{}}})
			return
		}
		fresh := covalue.NewCore(n.provider, content.Header)
		if fresh.ID() != id {
			core.LogWarn(n, "Header does not hash to ", id, " - DROP")
			return
		}
		c, created = n.values.Insert(fresh)
		created = !created
	}

	txs := content.Transactions()
	if !p.Role().IsUpstream() {
		n.subscribe(p, id)
		txs = n.gate(c, txs)
	}
	res := c.Merge(txs)
	for _, err := range res.Rejected {
		core.LogDebug(n, "Rejected transaction of ", id, " from ", p.ID(), ": ", err)
	}
	if c.Kind() == covalue.KindGroup && (res.Applied > 0 || created) {
		n.resolver.IndexGroup(c)
	}
	n.advance(p, content)
	n.loadFound(id)
	core.LogTrace(n, "Merged ", res.Applied, " transactions of ", id, " from ", p.ID())

	p.Send(&wire.Known{Known: n.knownFor(p, c)})

	if created && !p.Role().IsUpstream() {
		// Our upstream may hold more of a value a client just introduced.
		for _, q := range n.upstreamExcept(p) {
			n.request(q, c.KnownState())
		}
	}
	if res.Applied > 0 || created {
		n.broadcast(c, p)
	}
}

// gate drops transactions from clients whose authors could neither write now nor at the time
// they claim. Values whose owner is not loaded are not gated.
func (n *Node) gate(c *covalue.Core, txs []*covalue.Transaction) []*covalue.Transaction {
	if c.Kind() == covalue.KindGroup || c.Kind() == covalue.KindAccount {
		return txs
	}
	if _, _, ok := n.resolver.OwningGroup(c.ID()); !ok {
		return txs
	}
	kept := make([]*covalue.Transaction, 0, len(txs))
	for _, tx := range txs {
		author := string(tx.Author())
		if n.resolver.CanWrite(author, c.ID()) || n.resolver.RoleAt(author, c.ID(), tx.MadeAt).CanWrite() {
			kept = append(kept, tx)
		} else {
			core.LogDebug(n, "Dropping ", tx, ": author cannot write ", c.ID())
		}
	}
	return kept
}

func (n *Node) handleReconcileEntry(p *face.Peer, entry *covalue.KnownState) {
	id := entry.ID
	if entry.Header {
		if !p.Role().IsUpstream() {
			n.subscribe(p, id)
		}
		n.recordKnown(p, entry)
	}

	c := n.values.Lookup(id)
	if c == nil {
		p.Send(notFound(id))
		return
	}
	p.Send(&wire.Known{Known: n.knownFor(p, c)})
	n.push(p, c, true)
	if ours := c.KnownState(); p.Role().IsUpstream() && !ours.Covers(entry) {
		n.request(p, ours)
	}
}

// broadcast pushes what each interested peer lacks of c: upstream peers always, clients when
// subscribed and only if they may see something new.
func (n *Node) broadcast(c *covalue.Core, except *face.Peer) {
	for _, q := range n.peers.All() {
		if except != nil && q.ID() == except.ID() {
			continue
		}
		if !q.Role().IsUpstream() && !n.isSubscribed(q, c.ID()) {
			continue
		}
		n.push(q, c, q.Role().IsUpstream())
	}
}

// push sends p what it lacks of c, as far as we know, and remembers it was sent. Unless
// headerOnly is set, nothing is sent when p may not see any new transaction.
func (n *Node) push(p *face.Peer, c *covalue.Core, headerOnly bool) {
	content := n.contentFor(p, c, n.peerKnown(p, c.ID()))
	if content == nil || (!headerOnly && len(content.Sessions) == 0) {
		return
	}
	p.Send(&wire.Content{Content: content})
	n.advance(p, content)
}

// request asks p for what it has beyond ours, unless the same request was already made.
func (n *Node) request(p *face.Peer, ours *covalue.KnownState) {
	n.mu.Lock()
	st := n.state[p.ID()]
	if st == nil {
		n.mu.Unlock()
		return
	}
	if last, ok := st.asked[ours.ID]; ok && last.Covers(ours) && ours.Covers(last) {
		n.mu.Unlock()
		return
	}
	st.asked[ours.ID] = ours.Clone()
	n.mu.Unlock()
	p.Send(&wire.Load{Known: ours})
}

func (n *Node) upstreamExcept(p *face.Peer) []*face.Peer {
	var ret []*face.Peer
	for _, q := range n.peers.Upstream() {
		if q.ID() != p.ID() {
			ret = append(ret, q)
		}
	}
	return ret
}

func (n *Node) subscribe(p *face.Peer, id defn.ValueID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if st := n.state[p.ID()]; st != nil {
		st.subscribed[id] = struct{}{}
	}
}

func (n *Node) isSubscribed(p *face.Peer, id defn.ValueID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	st := n.state[p.ID()]
	if st == nil {
		return false
	}
	_, ok := st.subscribed[id]
	return ok
}

func (n *Node) peerKnown(p *face.Peer, id defn.ValueID) *covalue.KnownState {
	n.mu.Lock()
	defer n.mu.Unlock()
	st := n.state[p.ID()]
	if st == nil || st.known[id] == nil {
		return nil
	}
	return st.known[id].Clone()
}

func (n *Node) recordKnown(p *face.Peer, known *covalue.KnownState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if st := n.state[p.ID()]; st != nil {
		st.known[known.ID] = union(st.known[known.ID], known)
	}
}

// advance records that p now holds content, either because it was sent to p or came from it.
func (n *Node) advance(p *face.Peer, content *covalue.Content) {
	held := &covalue.KnownState{
		ID:       content.ID,
		Header:   content.Header != nil,
		Sessions: make(map[defn.SessionID]uint64, len(content.Sessions)),
	}
	for s, txs := range content.Sessions {
		if len(txs) > 0 {
			held.Sessions[s] = txs[len(txs)-1].Index + 1
		}
	}
	n.recordKnown(p, held)
}

func (n *Node) forget(p *face.Peer, id defn.ValueID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if st := n.state[p.ID()]; st != nil {
		delete(st.known, id)
		delete(st.asked, id)
	}
}

// complete marks a value as reconciled with a peer and wakes the waiters of finished batches.
func (n *Node) complete(peer defn.PeerID, id defn.ValueID) {
	batches := n.tracker.MarkItemComplete(peer, id)
	if len(batches) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, b := range batches {
		core.LogTrace(n, "Completed ", b, " with ", peer)
		if w, ok := n.waiters[b]; ok {
			w.finish(nil)
			delete(n.waiters, b)
		}
	}
}

// union returns a known state holding everything in a or b.
func union(a, b *covalue.KnownState) *covalue.KnownState {
	if a == nil {
		return b.Clone()
	}
	ret := a.Clone()
	ret.Header = ret.Header || b.Header
	for s, count := range b.Sessions {
		if count > ret.Sessions[s] {
			ret.Sessions[s] = count
		}
	}
	return ret
}
