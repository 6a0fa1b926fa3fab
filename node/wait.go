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
	"github.com/pkg/errors"
)

// batchWaiter is woken once a batch completed or its peer went away.
type batchWaiter struct {
	done chan struct{}
	err  error
}

func newBatchWaiter() *batchWaiter {
	return &batchWaiter{done: make(chan struct{})}
}

// finish must be called with n.mu held.
func (w *batchWaiter) finish(err error) {
	w.err = err
	close(w.done)
}

// reconcile sends p a batch announcing what we hold of ids and tracks it until p acknowledged
// every value. With wait set, the returned waiter is finished once the batch completed or p closed.
func (n *Node) reconcile(p *face.Peer, ids []defn.ValueID, wait bool) (defn.BatchID, *batchWaiter) {
	batch := defn.NewBatchID()
	entries := make([]*covalue.KnownState, 0, len(ids))
	tracked := make([]defn.ValueID, 0, len(ids))
	for _, id := range ids {
		if c := n.values.Lookup(id); c != nil {
			entries = append(entries, c.KnownState())
			tracked = append(tracked, id)
		}
	}

	var w *batchWaiter
	if wait {
		w = newBatchWaiter()
	}

	n.mu.Lock()
	if len(tracked) == 0 {
		if w != nil {
			w.finish(nil)
		}
		n.mu.Unlock()
		return batch, w
	}
	// PeerClosed drops the state of p under n.mu.
	if _, ok := n.state[p.ID()]; !ok {
		if w != nil {
			w.finish(errors.Wrapf(ErrTimeout, "peer %s disconnected", p.ID()))
		}
		n.mu.Unlock()
		return batch, w
	}
	if w != nil {
		n.waiters[batch] = w
	}
	n.tracker.TrackBatch(p.ID(), batch, tracked)
	n.mu.Unlock()

	p.Send(&wire.ReconcileBatch{Batch: batch, Entries: entries})
	core.LogDebug(n, "Sent ", batch, " with ", len(entries), " values to ", p.ID())
	return batch, w
}

// failWaiters wakes the waiters of every batch pending with peer. Must be called with n.mu held.
func (n *Node) failWaiters(peer defn.PeerID, batches []defn.BatchID) {
	for _, b := range batches {
		if w, ok := n.waiters[b]; ok {
			w.finish(errors.Wrapf(ErrTimeout, "peer %s disconnected during %s", peer, b))
			delete(n.waiters, b)
		}
	}
}

// waitFor reconciles ids with every upstream peer connected now and waits for all batches.
func (n *Node) waitFor(ctx context.Context, ids []defn.ValueID) error {
	upstream := n.peers.Upstream()
	batches := make([]defn.BatchID, 0, len(upstream))
	pending := make([]*batchWaiter, 0, len(upstream))
	for _, p := range upstream {
		batch, w := n.reconcile(p, ids, true)
		batches = append(batches, batch)
		pending = append(pending, w)
	}

	forget := func() {
		n.mu.Lock()
		for _, b := range batches {
			delete(n.waiters, b)
		}
		n.mu.Unlock()
	}
	for _, w := range pending {
		select {
		case <-w.done:
			if w.err != nil {
				forget()
				return w.err
			}
		case <-ctx.Done():
			forget()
			return errors.Wrapf(ErrTimeout, "%d values with %d peers: %v", len(ids), len(upstream), ctx.Err())
		}
	}
	return nil
}

// WaitForSync waits until every upstream peer acknowledged holding what we hold of id.
func (n *Node) WaitForSync(ctx context.Context, id defn.ValueID) error {
	return n.waitFor(ctx, []defn.ValueID{id})
}

// WaitForAllValuesSync waits until every upstream peer acknowledged every value we hold.
func (n *Node) WaitForAllValuesSync(ctx context.Context) error {
	return n.waitFor(ctx, n.allValueIDs())
}

// WaitForDirty waits until every value changed locally since the last call is acknowledged.
// On timeout the values stay dirty.
func (n *Node) WaitForDirty(ctx context.Context) error {
	n.mu.Lock()
	ids := make([]defn.ValueID, 0, len(n.dirty))
	for id := range n.dirty {
		ids = append(ids, id)
	}
	n.dirty = make(map[defn.ValueID]struct{})
	n.mu.Unlock()

	err := n.waitFor(ctx, ids)
	if err != nil {
		n.mu.Lock()
		for _, id := range ids {
			n.dirty[id] = struct{}{}
		}
		n.mu.Unlock()
	}
	return err
}
