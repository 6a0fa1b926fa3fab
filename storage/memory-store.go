/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package storage

import (
	"sort"
	"sync"

	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

type memoryRecord struct {
	header   *covalue.Header
	sessions map[defn.SessionID]map[uint64]*covalue.Transaction
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[defn.ValueID]*memoryRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[defn.ValueID]*memoryRecord)}
}

func (s *MemoryStore) Put(id defn.ValueID, header *covalue.Header, txs []*covalue.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[id]
	if (rec == nil || rec.header == nil) && header == nil {
		return errors.Errorf("no header stored for %s", id)
	}
	if rec == nil {
		rec = &memoryRecord{sessions: make(map[defn.SessionID]map[uint64]*covalue.Transaction)}
		s.records[id] = rec
	}
	if rec.header == nil {
		rec.header = header
	}
	for _, tx := range txs {
		if rec.sessions[tx.Session] == nil {
			rec.sessions[tx.Session] = make(map[uint64]*covalue.Transaction)
		}
		if _, ok := rec.sessions[tx.Session][tx.Index]; !ok {
			rec.sessions[tx.Session][tx.Index] = tx
		}
	}
	return nil
}

func (s *MemoryStore) Get(id defn.ValueID) (*covalue.Header, []*covalue.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := s.records[id]
	if rec == nil || rec.header == nil {
		return nil, nil, nil
	}
	var txs []*covalue.Transaction
	sessions := maps.Keys(rec.sessions)
	sort.Slice(sessions, func(i, j int) bool { return sessions[i] < sessions[j] })
	for _, session := range sessions {
		indices := maps.Keys(rec.sessions[session])
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
		for _, i := range indices {
			txs = append(txs, rec.sessions[session][i])
		}
	}
	return rec.header, txs, nil
}

func (s *MemoryStore) List() ([]defn.ValueID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []defn.ValueID
	for id, rec := range s.records {
		if rec.header != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
