/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package table

import (
	"sort"
	"sync"

	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/defn"
	"golang.org/x/exp/maps"
)

// ReconcileTracker tracks reconcile batches sent to peers until every value in them has been
// acknowledged. It keeps two indices per peer: batch to pending values, and value to the
// batches it blocks, in registration order.
type ReconcileTracker struct {
	mu    sync.Mutex
	peers map[defn.PeerID]*peerBatches
}

type peerBatches struct {
	pending  map[defn.BatchID]map[defn.ValueID]struct{}
	blocking map[defn.ValueID][]defn.BatchID
	seq      map[defn.BatchID]uint64
	nextSeq  uint64
}

// NewReconcileTracker creates an empty tracker.
func NewReconcileTracker() *ReconcileTracker {
	return &ReconcileTracker{peers: make(map[defn.PeerID]*peerBatches)}
}

func (t *ReconcileTracker) String() string {
	return "ReconcileTracker"
}

// TrackBatch registers values as pending in a batch for peer. An empty set is ignored.
// Tracking an existing batch again adds to it.
func (t *ReconcileTracker) TrackBatch(peer defn.PeerID, batch defn.BatchID, values []defn.ValueID) {
	if len(values) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pb := t.peers[peer]
	if pb == nil {
		pb = &peerBatches{
			pending:  make(map[defn.BatchID]map[defn.ValueID]struct{}),
			blocking: make(map[defn.ValueID][]defn.BatchID),
			seq:      make(map[defn.BatchID]uint64),
		}
		t.peers[peer] = pb
	}

	set := pb.pending[batch]
	if set == nil {
		set = make(map[defn.ValueID]struct{}, len(values))
		pb.pending[batch] = set
		pb.seq[batch] = pb.nextSeq
		pb.nextSeq++
		if len(pb.pending) == backlogWarning {
			core.LogWarn(t, "Peer ", peer, " has ", len(pb.pending), " unacknowledged batches")
		}
	}
	for _, v := range values {
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		pb.blocking[v] = append(pb.blocking[v], batch)
	}
}

// MarkItemComplete records that peer holds value. It returns the batches that became complete,
// in the order they were registered. Each batch is reported exactly once.
func (t *ReconcileTracker) MarkItemComplete(peer defn.PeerID, value defn.ValueID) []defn.BatchID {
	t.mu.Lock()
	defer t.mu.Unlock()

	pb := t.peers[peer]
	if pb == nil {
		return nil
	}
	batches, ok := pb.blocking[value]
	if !ok {
		return nil
	}
	delete(pb.blocking, value)

	var completed []defn.BatchID
	for _, b := range batches {
		set := pb.pending[b]
		delete(set, value)
		if len(set) == 0 {
			delete(pb.pending, b)
			completed = append(completed, b)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		return pb.seq[completed[i]] < pb.seq[completed[j]]
	})
	for _, b := range completed {
		delete(pb.seq, b)
	}

	if len(pb.pending) == 0 {
		delete(t.peers, peer)
	}
	return completed
}

// ClearPeer discards everything tracked for peer.
func (t *ReconcileTracker) ClearPeer(peer defn.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, peer)
}

// Size returns the number of batches still pending across all peers.
func (t *ReconcileTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, pb := range t.peers {
		n += len(pb.pending)
	}
	return n
}

// PendingBatches returns the pending batches of peer in registration order.
func (t *ReconcileTracker) PendingBatches(peer defn.PeerID) []defn.BatchID {
	t.mu.Lock()
	defer t.mu.Unlock()
	pb := t.peers[peer]
	if pb == nil {
		return nil
	}
	ids := maps.Keys(pb.pending)
	sort.Slice(ids, func(i, j int) bool { return pb.seq[ids[i]] < pb.seq[ids[j]] })
	return ids
}

// PendingValues returns the values a batch still waits for, sorted.
func (t *ReconcileTracker) PendingValues(peer defn.PeerID, batch defn.BatchID) []defn.ValueID {
	t.mu.Lock()
	defer t.mu.Unlock()
	pb := t.peers[peer]
	if pb == nil {
		return nil
	}
	ids := maps.Keys(pb.pending[batch])
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsPending reports whether a batch is still tracked for peer.
func (t *ReconcileTracker) IsPending(peer defn.PeerID, batch defn.BatchID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pb := t.peers[peer]
	if pb == nil {
		return false
	}
	_, ok := pb.pending[batch]
	return ok
}
