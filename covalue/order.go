/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package covalue

import (
	"math"
	"sort"

	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/utils/comparison"
)

// Entry is a transaction positioned in the total order of a value.
type Entry struct {
	Tx *Transaction
	// At is the effective time: MadeAt clamped to be non-decreasing inside the session.
	At int64
	// Seq is the position in the total order.
	Seq int
}

// orderSessions flattens the session logs into the total order (At, Session, Index).
func orderSessions(sessions map[defn.SessionID][]*Transaction) []Entry {
	n := 0
	for _, txs := range sessions {
		n += len(txs)
	}
	entries := make([]Entry, 0, n)
	for _, txs := range sessions {
		at := int64(math.MinInt64)
		for _, tx := range txs {
			at = comparison.Max(at, tx.MadeAt)
			entries = append(entries, Entry{Tx: tx, At: at})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entryLess(entries[i], entries[j])
	})
	for i := range entries {
		entries[i].Seq = i
	}
	return entries
}

func entryLess(a, b Entry) bool {
	if c := comparison.Compare(a.At, b.At); c != 0 {
		return c < 0
	}
	if c := comparison.Compare(a.Tx.Session, b.Tx.Session); c != 0 {
		return c < 0
	}
	return a.Tx.Index < b.Tx.Index
}
