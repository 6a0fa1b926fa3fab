/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package covalue

import (
	"sort"

	"github.com/named-data/cosync/defn"
	"golang.org/x/exp/maps"
)

// StreamEntry is one pushed item.
type StreamEntry struct {
	Value   []byte
	By      defn.AccountID
	Session defn.SessionID
	At      int64
}

// StreamState keeps an append-only feed per session and the latest entry per account.
type StreamState struct {
	sessions map[defn.SessionID][]StreamEntry
	latest   map[defn.AccountID]StreamEntry
}

func reduceStream(entries []Entry) *StreamState {
	s := &StreamState{
		sessions: make(map[defn.SessionID][]StreamEntry),
		latest:   make(map[defn.AccountID]StreamEntry),
	}
	for _, e := range entries {
		for _, c := range e.Tx.Changes {
			if c.Op != OpPush {
				continue
			}
			se := StreamEntry{Value: c.Value, By: e.Tx.Author(), Session: e.Tx.Session, At: e.At}
			s.sessions[e.Tx.Session] = append(s.sessions[e.Tx.Session], se)
			s.latest[se.By] = se
		}
	}
	return s
}

func (s *StreamState) Kind() Kind {
	return KindStream
}

// Sessions returns the sessions that pushed at least one entry, sorted.
func (s *StreamState) Sessions() []defn.SessionID {
	ids := maps.Keys(s.sessions)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Entries returns the feed of one session.
func (s *StreamState) Entries(session defn.SessionID) []StreamEntry {
	return s.sessions[session]
}

// Latest returns the most recent entry pushed by account.
func (s *StreamState) Latest(account defn.AccountID) (StreamEntry, bool) {
	e, ok := s.latest[account]
	return e, ok
}

// Accounts returns every account that pushed, sorted.
func (s *StreamState) Accounts() []defn.AccountID {
	ids := maps.Keys(s.latest)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
