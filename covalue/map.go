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

// MapState is a last-writer-wins map. Accounts use it for their profile and root references.
type MapState struct {
	kind   Kind
	values map[string]MapEntry
}

// MapEntry is the winning write of one key.
type MapEntry struct {
	Value []byte
	By    defn.AccountID
	At    int64
}

func reduceMap(kind Kind, entries []Entry) *MapState {
	m := &MapState{kind: kind, values: make(map[string]MapEntry)}
	for _, e := range entries {
		for _, c := range e.Tx.Changes {
			switch c.Op {
			case OpSet:
				m.values[c.Key] = MapEntry{Value: c.Value, By: e.Tx.Author(), At: e.At}
			case OpDel:
				delete(m.values, c.Key)
			}
		}
	}
	return m
}

func (m *MapState) Kind() Kind {
	return m.kind
}

// Get returns the value of key.
func (m *MapState) Get(key string) ([]byte, bool) {
	e, ok := m.values[key]
	return e.Value, ok
}

// GetString returns the value of key as a string.
func (m *MapState) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	return string(v), ok
}

// Ref returns the value of key as a reference to another value.
func (m *MapState) Ref(key string) (defn.ValueID, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	id := defn.ValueID(v)
	return id, id.IsValid()
}

// Entry returns the winning write of key, including its author.
func (m *MapState) Entry(key string) (MapEntry, bool) {
	e, ok := m.values[key]
	return e, ok
}

// Keys returns the present keys in lexical order.
func (m *MapState) Keys() []string {
	keys := maps.Keys(m.values)
	sort.Strings(keys)
	return keys
}

func (m *MapState) Len() int {
	return len(m.values)
}
