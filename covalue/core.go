/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package covalue

import (
	"reflect"
	"sync"

	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/security"
	"github.com/pkg/errors"
)

// Core holds every known transaction of one value plus its derived state.
type Core struct {
	id       defn.ValueID
	header   *Header
	provider security.Provider

	mu       sync.RWMutex
	sessions map[defn.SessionID][]*Transaction
	buffered map[defn.SessionID]map[uint64]*Transaction
	ordered  []Entry
	state    State
}

// MergeResult reports what a Merge call did.
type MergeResult struct {
	// Applied counts transactions appended to a session, including flushed buffered ones.
	Applied int
	// Duplicates counts transactions that were already known or already buffered.
	Duplicates int
	// Buffered counts transactions still waiting for a gap in their session to fill.
	Buffered int
	// Rejected holds one error per transaction that failed validation.
	Rejected []error
	// Changed is set when the derived state differs after the merge.
	Changed bool
}

// NewCore creates an empty core for the value described by header.
func NewCore(p security.Provider, header *Header) *Core {
	return &Core{
		id:       header.ID(p),
		header:   header,
		provider: p,
		sessions: make(map[defn.SessionID][]*Transaction),
		buffered: make(map[defn.SessionID]map[uint64]*Transaction),
	}
}

func (c *Core) String() string {
	return "Core-" + string(c.id)
}

// ID returns the value id.
func (c *Core) ID() defn.ValueID {
	return c.id
}

// Header returns the immutable header.
func (c *Core) Header() *Header {
	return c.header
}

// Kind returns the kind from the header.
func (c *Core) Kind() Kind {
	return c.header.Kind
}

// SessionLen returns the number of contiguous transactions in a session.
func (c *Core) SessionLen(session defn.SessionID) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.sessions[session]))
}

// Append adds a transaction authored by caller to the end of its session.
func (c *Core) Append(caller defn.AccountID, tx *Transaction) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	owner := tx.Session.Owner()
	if owner == "" || owner != caller {
		return false, errors.Wrapf(ErrInvalidSession, "%s appending to %s", caller, tx.Session)
	}
	if n := uint64(len(c.sessions[tx.Session])); tx.Index != n {
		return false, errors.Wrapf(ErrOutOfOrder, "%s: expected index %d", tx, n)
	}
	if err := tx.Verify(c.provider, c.id); err != nil {
		return false, err
	}

	before := c.stateLocked()
	c.sessions[tx.Session] = append(c.sessions[tx.Session], tx)
	c.flushLocked(tx.Session)
	c.invalidateLocked()
	return !reflect.DeepEqual(before, c.stateLocked()), nil
}

// Merge adds transactions received from elsewhere. Known transactions are ignored, gaps are
// buffered until filled, and invalid transactions are rejected one by one.
func (c *Core) Merge(txs []*Transaction) MergeResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := MergeResult{}
	var before State
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		n := uint64(len(c.sessions[tx.Session]))
		if tx.Index < n {
			res.Duplicates++
			continue
		}
		if _, ok := c.buffered[tx.Session][tx.Index]; ok {
			res.Duplicates++
			continue
		}
		if err := tx.Verify(c.provider, c.id); err != nil {
			core.LogDebug(c, "Dropping transaction ", tx, ": ", err)
			res.Rejected = append(res.Rejected, err)
			continue
		}

		if tx.Index > n {
			if c.buffered[tx.Session] == nil {
				c.buffered[tx.Session] = make(map[uint64]*Transaction)
			}
			c.buffered[tx.Session][tx.Index] = tx
			continue
		}

		if before == nil {
			before = c.stateLocked()
		}
		c.sessions[tx.Session] = append(c.sessions[tx.Session], tx)
		res.Applied++
		res.Applied += c.flushLocked(tx.Session)
	}

	for _, pending := range c.buffered {
		res.Buffered += len(pending)
	}
	if res.Applied > 0 {
		c.invalidateLocked()
		res.Changed = !reflect.DeepEqual(before, c.stateLocked())
	}
	return res
}

// flushLocked moves buffered transactions that now follow the session into the log.
func (c *Core) flushLocked(session defn.SessionID) int {
	pending := c.buffered[session]
	flushed := 0
	for {
		next := uint64(len(c.sessions[session]))
		tx, ok := pending[next]
		if !ok {
			break
		}
		delete(pending, next)
		c.sessions[session] = append(c.sessions[session], tx)
		flushed++
	}
	if len(pending) == 0 {
		delete(c.buffered, session)
	}
	return flushed
}

func (c *Core) invalidateLocked() {
	c.ordered = nil
	c.state = nil
}

func (c *Core) entriesLocked() []Entry {
	if c.ordered == nil {
		c.ordered = orderSessions(c.sessions)
	}
	return c.ordered
}

func (c *Core) stateLocked() State {
	if c.state == nil {
		c.state = reduce(c.header, c.entriesLocked())
	}
	return c.state
}

// KnownState returns the per-session counts of contiguous transactions.
func (c *Core) KnownState() *KnownState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ks := &KnownState{ID: c.id, Header: true, Sessions: make(map[defn.SessionID]uint64, len(c.sessions))}
	for s, txs := range c.sessions {
		ks.Sessions[s] = uint64(len(txs))
	}
	return ks
}

// ContentSince returns what a replica with the given known state lacks, or nil.
func (c *Core) ContentSince(known *KnownState) *Content {
	return c.ContentSinceFiltered(known, nil)
}

// ContentSinceFiltered is ContentSince restricted to entries keep accepts. A session is cut at
// its first rejected transaction, since sessions can only be transferred contiguously.
func (c *Core) ContentSinceFiltered(known *KnownState, keep func(Entry) bool) *Content {
	c.mu.Lock()
	defer c.mu.Unlock()

	content := &Content{ID: c.id, Sessions: make(map[defn.SessionID][]*Transaction)}
	if known == nil || !known.Header {
		content.Header = c.header
	}

	var at map[*Transaction]Entry
	if keep != nil {
		entries := c.entriesLocked()
		at = make(map[*Transaction]Entry, len(entries))
		for _, e := range entries {
			at[e.Tx] = e
		}
	}

	for s, txs := range c.sessions {
		from := uint64(0)
		if known != nil {
			from = known.Sessions[s]
		}
		if from >= uint64(len(txs)) {
			continue
		}
		var missing []*Transaction
		for _, tx := range txs[from:] {
			if keep != nil && !keep(at[tx]) {
				break
			}
			missing = append(missing, tx)
		}
		if len(missing) > 0 {
			content.Sessions[s] = missing
		}
	}

	if content.IsEmpty() {
		return nil
	}
	return content
}

// Entries returns the transactions in total order with their effective times.
func (c *Core) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entriesLocked()...)
}

// Transactions returns the transactions in total order.
func (c *Core) Transactions() []*Transaction {
	entries := c.Entries()
	ret := make([]*Transaction, len(entries))
	for i, e := range entries {
		ret[i] = e.Tx
	}
	return ret
}

// State returns the unfiltered derived state.
func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// View reduces only the entries keep accepts.
func (c *Core) View(keep func(Entry) bool) State {
	c.mu.Lock()
	entries := c.entriesLocked()
	c.mu.Unlock()

	filtered := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if keep == nil || keep(e) {
			filtered = append(filtered, e)
		}
	}
	return reduce(c.header, filtered)
}

// Buffered returns the number of transactions waiting for a gap to fill.
func (c *Core) Buffered() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, pending := range c.buffered {
		n += len(pending)
	}
	return n
}
