/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package covalue

import (
	"github.com/named-data/cosync/defn"
)

// KnownState summarizes what a replica holds of a value: whether it has the header and the
// number of contiguous transactions per session.
type KnownState struct {
	ID       defn.ValueID
	Header   bool
	Sessions map[defn.SessionID]uint64
}

// Covers reports whether k knows at least everything other knows.
func (k *KnownState) Covers(other *KnownState) bool {
	if other == nil {
		return true
	}
	if other.Header && !k.Header {
		return false
	}
	for s, n := range other.Sessions {
		if k.Sessions[s] < n {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (k *KnownState) Clone() *KnownState {
	ret := &KnownState{ID: k.ID, Header: k.Header, Sessions: make(map[defn.SessionID]uint64, len(k.Sessions))}
	for s, n := range k.Sessions {
		ret.Sessions[s] = n
	}
	return ret
}

// Content carries the header and session suffixes one replica is missing.
type Content struct {
	ID       defn.ValueID
	Header   *Header
	Sessions map[defn.SessionID][]*Transaction
}

// Transactions returns every transaction in the content, session by session.
func (c *Content) Transactions() []*Transaction {
	var ret []*Transaction
	for _, txs := range c.Sessions {
		ret = append(ret, txs...)
	}
	return ret
}

// IsEmpty reports whether the content carries nothing.
func (c *Content) IsEmpty() bool {
	return c.Header == nil && len(c.Sessions) == 0
}

// Priority returns the delivery priority: membership and account data goes first.
func (h *Header) Priority() defn.Priority {
	if h.Kind == KindAccount || h.Kind == KindGroup {
		return defn.PriorityHigh
	}
	return defn.PriorityMedium
}
