/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package node

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/face"
	"github.com/named-data/cosync/perm"
	"github.com/named-data/cosync/security"
	"github.com/named-data/cosync/storage"
	"github.com/named-data/cosync/table"
	"github.com/named-data/cosync/wire"
)

// peerState is what a node remembers about one peer.
type peerState struct {
	// known is what the peer reported holding, merged with what was sent to it since.
	known map[defn.ValueID]*covalue.KnownState
	// asked is our own state when we last requested a value from the peer.
	asked map[defn.ValueID]*covalue.KnownState
	// subscribed holds the values a client peer receives updates for.
	subscribed map[defn.ValueID]struct{}
}

func newPeerState() *peerState {
	return &peerState{
		known:      make(map[defn.ValueID]*covalue.KnownState),
		asked:      make(map[defn.ValueID]*covalue.KnownState),
		subscribed: make(map[defn.ValueID]struct{}),
	}
}

// Node replicates values with its peers on behalf of one account.
type Node struct {
	agent    *security.Agent
	provider security.Provider
	account  defn.AccountID
	session  defn.SessionID

	values   *table.ValueTable
	resolver *perm.Resolver
	peers    *face.Table
	tracker  *table.ReconcileTracker

	threads        []*syncThread
	threadMu       sync.RWMutex
	threadsStopped bool

	ctx     context.Context
	cancel  context.CancelFunc
	closing atomic.Bool
	bg      sync.WaitGroup

	writeMu    sync.Mutex
	lastMadeAt int64

	mu      sync.Mutex
	state   map[defn.PeerID]*peerState
	loads   map[defn.ValueID]*pendingLoad
	waiters map[defn.BatchID]*batchWaiter
	dirty   map[defn.ValueID]struct{}
}

// New creates a node acting as the account controlled by agent, and starts its sync threads.
func New(agent *security.Agent) *Node {
	p := agent.Provider()
	header := covalue.AccountHeader(agent.Signer())

	n := &Node{
		agent:    agent,
		provider: p,
		account:  header.ID(p),
		values:   table.NewValueTable(),
		peers:    face.NewTable(),
		tracker:  table.NewReconcileTracker(),
		state:    make(map[defn.PeerID]*peerState),
		loads:    make(map[defn.ValueID]*pendingLoad),
		waiters:  make(map[defn.BatchID]*batchWaiter),
		dirty:    make(map[defn.ValueID]struct{}),
	}
	n.session = defn.NewSessionID(n.account)
	n.resolver = perm.NewResolver(n.account, n.values)
	n.values.Insert(covalue.NewCore(p, header))
	n.ctx, n.cancel = context.WithCancel(context.Background())

	n.threads = make([]*syncThread, numSyncThreads)
	for i := range n.threads {
		n.threads[i] = newSyncThread(i)
		go n.threads[i].run()
	}
	core.LogInfo(n, "Started with ", len(n.threads), " sync threads")
	return n
}

func (n *Node) String() string {
	return "Node-" + string(n.account)
}

// Account returns the account the node acts as.
func (n *Node) Account() defn.AccountID {
	return n.account
}

// Provider returns the crypto provider of the node's identity.
func (n *Node) Provider() security.Provider {
	return n.provider
}

// Session returns the session the node appends its own transactions to.
func (n *Node) Session() defn.SessionID {
	return n.session
}

// Resolver returns the permission resolver of the node.
func (n *Node) Resolver() *perm.Resolver {
	return n.resolver
}

// Peers returns the peer table.
func (n *Node) Peers() *face.Table {
	return n.peers
}

// Tracker returns the reconcile tracker.
func (n *Node) Tracker() *table.ReconcileTracker {
	return n.tracker
}

// Core returns the local core of a value, or nil.
func (n *Node) Core(id defn.ValueID) *covalue.Core {
	return n.values.Lookup(id)
}

// NumValues returns the number of values held locally.
func (n *Node) NumValues() int {
	return n.values.Len()
}

// AddPeer starts syncing with p. A signed hello is sent first; upstream peers also get a
// reconcile batch of every value held.
func (n *Node) AddPeer(p *face.Peer) error {
	if n.closing.Load() {
		return core.ErrShuttingDown
	}

	n.mu.Lock()
	n.state[p.ID()] = newPeerState()
	n.mu.Unlock()
	n.peers.Add(p)
	p.Run(n)

	ours := defn.PeerServer
	if p.Role().IsUpstream() {
		ours = defn.PeerClient
	}
	hello, err := wire.NewHello(n.agent, n.account, ours, n.now())
	if err != nil {
		p.Close()
		return err
	}
	p.Send(hello)
	core.LogInfo(n, "Added ", p)

	if p.Role().IsUpstream() {
		n.reconcile(p, n.allValueIDs(), false)
	}
	return nil
}

// AddStorage adds a storage peer backed by store.
func (n *Node) AddStorage(name string, store storage.Store) error {
	t := storage.NewPeerTransport(name, store, n.provider, storageQueueSize)
	return n.AddPeer(face.NewPeer(defn.NewPeerID("storage"), defn.PeerStorage, t))
}

// Connect links a client node to a server node over an in-memory pipe.
func Connect(client, server *Node) error {
	serverEnd, clientEnd := face.NewMemoryPipe(server.String(), client.String())
	if err := server.AddPeer(face.NewPeer(defn.NewPeerID("client"), defn.PeerClient, serverEnd)); err != nil {
		return err
	}
	return client.AddPeer(face.NewPeer(defn.NewPeerID("server"), defn.PeerServer, clientEnd))
}

// PeerClosed implements face.Handler.
func (n *Node) PeerClosed(p *face.Peer) {
	n.peers.Remove(p.ID())

	n.mu.Lock()
	delete(n.state, p.ID())
	n.failWaiters(p.ID(), n.tracker.PendingBatches(p.ID()))
	n.tracker.ClearPeer(p.ID())
	for id, l := range n.loads {
		if l.answered(p.ID()) {
			delete(n.loads, id)
		}
	}
	n.mu.Unlock()
	core.LogInfo(n, "Removed ", p)
}

// GracefulShutdown stops accepting work, flushes what is queued for peers until ctx ends,
// closes every peer and stops the sync threads.
func (n *Node) GracefulShutdown(ctx context.Context) error {
	if !n.closing.CompareAndSwap(false, true) {
		return nil
	}
	core.LogInfo(n, "Shutting down")

	n.drainThreads(ctx.Done())
	var err error
	peers := n.peers.All()
	for _, p := range peers {
		if e := p.Flush(ctx); e != nil && err == nil {
			core.LogWarn(n, "Unable to flush ", p, ": ", e)
			err = e
		}
	}

	n.cancel()
	for _, p := range peers {
		p.Close()
	}
	for _, p := range peers {
		p.Wait()
	}
	n.stopThreads()
	n.bg.Wait()
	core.LogInfo(n, "Shut down")
	return err
}

func (n *Node) allValueIDs() []defn.ValueID {
	all := n.values.All()
	ids := make([]defn.ValueID, len(all))
	for i, c := range all {
		ids[i] = c.ID()
	}
	return ids
}

// subjectFor returns the identity whose permissions gate what a peer may receive.
func subjectFor(p *face.Peer) string {
	account, _ := p.RemoteAccount()
	if account == "" {
		return defn.Everyone
	}
	return string(account)
}

// filterFor returns the predicate restricting what of c may be sent to p, or nil for everything.
// Upstream peers hold everything; groups and accounts are readable by all.
func (n *Node) filterFor(p *face.Peer, c *covalue.Core) func(covalue.Entry) bool {
	if p.Role().IsUpstream() || c.Kind() == covalue.KindGroup || c.Kind() == covalue.KindAccount {
		return nil
	}
	subject := subjectFor(p)
	id := c.ID()
	return func(e covalue.Entry) bool {
		return n.resolver.CanReadTx(subject, id, e)
	}
}

// knownFor returns our known state of c as visible to p.
func (n *Node) knownFor(p *face.Peer, c *covalue.Core) *covalue.KnownState {
	keep := n.filterFor(p, c)
	if keep == nil {
		return c.KnownState()
	}
	ks := &covalue.KnownState{ID: c.ID(), Header: true, Sessions: make(map[defn.SessionID]uint64)}
	if content := c.ContentSinceFiltered(nil, keep); content != nil {
		for s, txs := range content.Sessions {
			ks.Sessions[s] = uint64(len(txs))
		}
	}
	return ks
}

func (n *Node) contentFor(p *face.Peer, c *covalue.Core, known *covalue.KnownState) *covalue.Content {
	return c.ContentSinceFiltered(known, n.filterFor(p, c))
}

func notFound(id defn.ValueID) *wire.Known {
	return &wire.Known{Known: &covalue.KnownState{ID: id, Sessions: map[defn.SessionID]uint64{}}}
}

func (n *Node) markDirty(id defn.ValueID) {
	n.mu.Lock()
	n.dirty[id] = struct{}{}
	n.mu.Unlock()
}
