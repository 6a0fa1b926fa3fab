/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package table

import (
	"sort"

	"github.com/cornelk/hashmap"
	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
)

// ValueTable holds the loaded value cores of a node. Lookups are lock free.
type ValueTable struct {
	values *hashmap.HashMap
}

// NewValueTable creates an empty table.
func NewValueTable() *ValueTable {
	return &ValueTable{values: &hashmap.HashMap{}}
}

// Lookup returns the core of a value, or nil.
func (t *ValueTable) Lookup(id defn.ValueID) *covalue.Core {
	value, ok := t.values.GetStringKey(string(id))
	if !ok {
		return nil
	}
	return value.(*covalue.Core)
}

// Insert adds c unless a core with the same id exists. It returns the core held by the table
// and whether it was already present.
func (t *ValueTable) Insert(c *covalue.Core) (*covalue.Core, bool) {
	actual, loaded := t.values.GetOrInsert(string(c.ID()), c)
	return actual.(*covalue.Core), loaded
}

// Len returns the number of values.
func (t *ValueTable) Len() int {
	return t.values.Len()
}

// All returns every core sorted by id.
func (t *ValueTable) All() []*covalue.Core {
	var ret []*covalue.Core
	for kv := range t.values.Iter() {
		ret = append(ret, kv.Value.(*covalue.Core))
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID() < ret[j].ID() })
	return ret
}
