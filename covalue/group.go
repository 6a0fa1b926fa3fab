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
	"golang.org/x/exp/maps"
)

// Grant is one membership change as recorded in a group.
type Grant struct {
	Role defn.Role
	At   int64
	By   defn.AccountID
}

// Edge is an extend edge from a group to a parent group.
type Edge struct {
	Parent defn.ValueID
	At     int64
}

// Member is a current member of a group.
type Member struct {
	ID   string
	Role defn.Role
}

// GroupState is the membership table of a group: an append-only history of grants per member
// plus the ordered list of parents it extends.
type GroupState struct {
	creator defn.AccountID
	grants  map[string][]Grant
	parents []Edge
}

func reduceGroup(header *Header, entries []Entry) *GroupState {
	g := &GroupState{
		creator: header.CreatedBy,
		grants:  make(map[string][]Grant),
	}
	if header.CreatedBy != "" {
		g.grants[string(header.CreatedBy)] = []Grant{{Role: defn.RoleAdmin, At: math.MinInt64, By: header.CreatedBy}}
	}

	for _, e := range entries {
		actor := e.Tx.Author()
		for _, c := range e.Tx.Changes {
			isAdmin := g.RoleOf(string(actor)).CanAdmin()
			switch c.Op {
			case OpGrant:
				role, ok := defn.ParseRole(string(c.Value))
				if !ok || c.Key == "" {
					continue
				}
				if c.Key == defn.Everyone && !role.ValidForEveryone() {
					continue
				}
				selfRevoke := c.Key == string(actor) && role == defn.RoleNone
				if !isAdmin && !selfRevoke {
					continue
				}
				g.grants[c.Key] = append(g.grants[c.Key], Grant{Role: role, At: e.At, By: actor})
			case OpExtend:
				parent := defn.ValueID(c.Key)
				if !isAdmin || !parent.IsValid() || g.hasParent(parent) {
					continue
				}
				g.parents = append(g.parents, Edge{Parent: parent, At: e.At})
			}
		}
	}
	return g
}

func (g *GroupState) Kind() Kind {
	return KindGroup
}

func (g *GroupState) hasParent(id defn.ValueID) bool {
	for _, e := range g.parents {
		if e.Parent == id {
			return true
		}
	}
	return false
}

// Creator returns the implicit first admin.
func (g *GroupState) Creator() defn.AccountID {
	return g.creator
}

// RoleOf returns the current direct role of member, which may be an account id or Everyone.
func (g *GroupState) RoleOf(member string) defn.Role {
	h := g.grants[member]
	if len(h) == 0 {
		return defn.RoleNone
	}
	return h[len(h)-1].Role
}

// RoleAt returns the direct role member held at effective time t.
func (g *GroupState) RoleAt(member string, t int64) defn.Role {
	role := defn.RoleNone
	for _, gr := range g.grants[member] {
		if gr.At > t {
			break
		}
		role = gr.Role
	}
	return role
}

// History returns the grants recorded for member, oldest first.
func (g *GroupState) History(member string) []Grant {
	return append([]Grant(nil), g.grants[member]...)
}

// Parents returns the extend edges in the order they were applied.
func (g *GroupState) Parents() []Edge {
	return append([]Edge(nil), g.parents...)
}

// ParentsAt returns the extend edges that existed at effective time t.
func (g *GroupState) ParentsAt(t int64) []Edge {
	var ret []Edge
	for _, e := range g.parents {
		if e.At <= t {
			ret = append(ret, e)
		}
	}
	return ret
}

// Members lists current direct members with a role, sorted by id.
func (g *GroupState) Members() []Member {
	ids := maps.Keys(g.grants)
	sort.Strings(ids)
	ret := make([]Member, 0, len(ids))
	for _, id := range ids {
		if role := g.RoleOf(id); role != defn.RoleNone {
			ret = append(ret, Member{ID: id, Role: role})
		}
	}
	return ret
}
