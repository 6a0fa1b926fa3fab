/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package perm

import (
	"math"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
)

// Source gives the resolver access to loaded values.
type Source interface {
	Lookup(id defn.ValueID) *covalue.Core
}

// Resolver derives effective roles from replicated group values.
type Resolver struct {
	me     defn.AccountID
	source Source

	mu sync.Mutex
	// cache holds current roles per group, keyed by the hash of the subject.
	cache map[defn.ValueID]map[uint64]defn.Role
	// gen counts invalidations per group. A role computed before an invalidation is not cached.
	gen map[defn.ValueID]uint64
	// parents holds the accepted extend edges of each indexed group, in edge order.
	parents map[defn.ValueID][]covalue.Edge
	// children is the reverse of parents.
	children map[defn.ValueID]map[defn.ValueID]struct{}
}

// NewResolver creates a resolver where "me" resolves to the given account.
func NewResolver(me defn.AccountID, source Source) *Resolver {
	return &Resolver{
		me:       me,
		source:   source,
		cache:    make(map[defn.ValueID]map[uint64]defn.Role),
		gen:      make(map[defn.ValueID]uint64),
		parents:  make(map[defn.ValueID][]covalue.Edge),
		children: make(map[defn.ValueID]map[defn.ValueID]struct{}),
	}
}

func (r *Resolver) String() string {
	return "Resolver"
}

// Me returns the identity "me" resolves to.
func (r *Resolver) Me() defn.AccountID {
	return r.me
}

func (r *Resolver) subject(s string) string {
	if s == defn.Me {
		return string(r.me)
	}
	return s
}

// IndexGroup records the extend edges of a group after its transactions changed and drops
// cached roles of the group and every group that inherits from it. Edges that would close a
// cycle are skipped.
func (r *Resolver) IndexGroup(group *covalue.Core) {
	if group == nil || group.Kind() != covalue.KindGroup {
		return
	}
	state := group.State().(*covalue.GroupState)
	id := group.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	known := make(map[defn.ValueID]struct{}, len(r.parents[id]))
	for _, e := range r.parents[id] {
		known[e.Parent] = struct{}{}
	}
	for _, e := range state.Parents() {
		if _, ok := known[e.Parent]; ok {
			continue
		}
		if r.reachableLocked(e.Parent, id) {
			core.LogWarn(r, "Skipping extend edge ", id, " -> ", e.Parent, ": cycle")
			continue
		}
		r.parents[id] = append(r.parents[id], e)
		if r.children[e.Parent] == nil {
			r.children[e.Parent] = make(map[defn.ValueID]struct{})
		}
		r.children[e.Parent][id] = struct{}{}
	}
	r.invalidateLocked(id)
}

// reachableLocked reports whether target is from or one of its indexed ancestors.
func (r *Resolver) reachableLocked(from defn.ValueID, target defn.ValueID) bool {
	seen := map[defn.ValueID]struct{}{}
	queue := []defn.ValueID{from}
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		if g == target {
			return true
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		for _, e := range r.parents[g] {
			queue = append(queue, e.Parent)
		}
	}
	return false
}

func (r *Resolver) invalidateLocked(id defn.ValueID) {
	queue := []defn.ValueID{id}
	seen := map[defn.ValueID]struct{}{}
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		delete(r.cache, g)
		r.gen[g]++
		for child := range r.children[g] {
			queue = append(queue, child)
		}
	}
}

// WouldCycle reports whether making child extend parent would create a cycle.
func (r *Resolver) WouldCycle(child, parent defn.ValueID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reachableLocked(parent, child)
}

// OwningGroup returns the value that governs access to id, and whether it is an account.
func (r *Resolver) OwningGroup(id defn.ValueID) (defn.ValueID, bool, bool) {
	c := r.source.Lookup(id)
	if c == nil {
		return "", false, false
	}
	switch c.Kind() {
	case covalue.KindGroup:
		return id, false, true
	case covalue.KindAccount:
		return id, true, true
	}
	owner := c.Header().Owner
	oc := r.source.Lookup(owner)
	if oc == nil {
		return owner, false, false
	}
	return owner, oc.Kind() == covalue.KindAccount, true
}

// RoleOf returns the current role of subject on a value. Subject is an account id, "me" or
// "everyone". Unknown values and owners yield RoleNone.
func (r *Resolver) RoleOf(subject string, id defn.ValueID) defn.Role {
	subject = r.subject(subject)
	owner, isAccount, ok := r.OwningGroup(id)
	if !ok {
		return defn.RoleNone
	}
	if isAccount {
		if subject == string(owner) {
			return defn.RoleAdmin
		}
		return defn.RoleNone
	}

	key := xxhash.Sum64String(subject)
	r.mu.Lock()
	if role, ok := r.cache[owner][key]; ok {
		r.mu.Unlock()
		return role
	}
	gen := r.gen[owner]
	r.mu.Unlock()

	role := r.groupRole(subject, owner, math.MaxInt64, false)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen[owner] != gen {
		return role
	}
	if r.cache[owner] == nil {
		r.cache[owner] = make(map[uint64]defn.Role)
	}
	r.cache[owner][key] = role
	return role
}

// RoleAt returns the role subject held on a value at effective time t.
func (r *Resolver) RoleAt(subject string, id defn.ValueID, t int64) defn.Role {
	subject = r.subject(subject)
	owner, isAccount, ok := r.OwningGroup(id)
	if !ok {
		return defn.RoleNone
	}
	if isAccount {
		if subject == string(owner) {
			return defn.RoleAdmin
		}
		return defn.RoleNone
	}
	return r.groupRole(subject, owner, t, true)
}

// groupRole walks the group and its ancestors breadth first and returns the first grant found.
// A direct grant to the subject wins over a grant to everyone in the same group.
func (r *Resolver) groupRole(subject string, group defn.ValueID, t int64, timed bool) defn.Role {
	seen := map[defn.ValueID]struct{}{}
	queue := []defn.ValueID{group}
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}

		c := r.source.Lookup(g)
		if c == nil || c.Kind() != covalue.KindGroup {
			continue
		}
		state := c.State().(*covalue.GroupState)
		if role := directRole(state, subject, t, timed); role != defn.RoleNone {
			return role
		}

		r.mu.Lock()
		edges := r.parents[g]
		r.mu.Unlock()
		for _, e := range edges {
			if timed && e.At > t {
				continue
			}
			queue = append(queue, e.Parent)
		}
	}
	return defn.RoleNone
}

func directRole(state *covalue.GroupState, subject string, t int64, timed bool) defn.Role {
	lookup := state.RoleOf
	if timed {
		lookup = func(member string) defn.Role { return state.RoleAt(member, t) }
	}
	if role := lookup(subject); role != defn.RoleNone {
		return role
	}
	if subject == defn.Everyone {
		return defn.RoleNone
	}
	return lookup(defn.Everyone)
}

// CanRead reports whether subject may currently read the value.
func (r *Resolver) CanRead(subject string, id defn.ValueID) bool {
	return r.RoleOf(subject, id).CanRead()
}

// CanWrite reports whether subject may currently write the value.
func (r *Resolver) CanWrite(subject string, id defn.ValueID) bool {
	return r.RoleOf(subject, id).CanWrite()
}

// CanAdmin reports whether subject may currently change membership of the value's group.
func (r *Resolver) CanAdmin(subject string, id defn.ValueID) bool {
	return r.RoleOf(subject, id).CanAdmin()
}

// CanReadTx reports whether subject may see a transaction. Current readers see the whole
// history; former readers keep what was written while they could read; authors see their own.
func (r *Resolver) CanReadTx(subject string, id defn.ValueID, e covalue.Entry) bool {
	subject = r.subject(subject)
	if string(e.Tx.Author()) == subject {
		return true
	}
	if r.RoleOf(subject, id).CanRead() {
		return true
	}
	return r.RoleAt(subject, id, e.At).CanRead()
}

// CanWriteTx reports whether the author of a transaction was allowed to write it. Group
// transactions are validated by the group itself.
func (r *Resolver) CanWriteTx(id defn.ValueID, e covalue.Entry) bool {
	c := r.source.Lookup(id)
	if c == nil {
		return false
	}
	switch c.Kind() {
	case covalue.KindGroup:
		return true
	case covalue.KindAccount:
		return e.Tx.Author() == id
	}
	return r.RoleAt(string(e.Tx.Author()), id, e.At).CanWrite()
}

// ViewFilter returns the predicate selecting what subject sees of a value.
func (r *Resolver) ViewFilter(subject string, id defn.ValueID) func(covalue.Entry) bool {
	return func(e covalue.Entry) bool {
		return r.CanWriteTx(id, e) && r.CanReadTx(subject, id, e)
	}
}
