/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package node

import (
	"time"

	"github.com/named-data/cosync/core"
	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/perm"
	"github.com/pkg/errors"
)

// now returns a strictly increasing millisecond timestamp for local transactions.
func (n *Node) now() int64 {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	return n.nowLocked()
}

func (n *Node) nowLocked() int64 {
	t := time.Now().UnixMilli()
	if t <= n.lastMadeAt {
		t = n.lastMadeAt + 1
	}
	n.lastMadeAt = t
	return t
}

func (n *Node) resolve(id defn.ValueID) defn.ValueID {
	if id == defn.Me {
		return n.account
	}
	return id
}

// commit signs the changes as the next transaction of our session on c, applies it and
// schedules it for delivery.
func (n *Node) commit(c *covalue.Core, changes ...covalue.Change) (*covalue.Transaction, error) {
	if n.closing.Load() {
		return nil, core.ErrShuttingDown
	}

	n.writeMu.Lock()
	tx, err := covalue.NewTransaction(n.agent, c.ID(), n.session, c.SessionLen(n.session), n.nowLocked(), changes)
	if err == nil {
		_, err = c.Append(n.account, tx)
	}
	n.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	if c.Kind() == covalue.KindGroup {
		n.resolver.IndexGroup(c)
	}
	n.markDirty(c.ID())
	n.dispatch(c.ID(), func() { n.broadcast(c, nil) })
	core.LogTrace(n, "Committed ", tx, " to ", c.ID())
	return tx, nil
}

// create adds a new value with the given header and schedules it for delivery.
func (n *Node) create(header *covalue.Header) (*covalue.Core, error) {
	if n.closing.Load() {
		return nil, core.ErrShuttingDown
	}
	c, _ := n.values.Insert(covalue.NewCore(n.provider, header))
	if c.Kind() == covalue.KindGroup {
		n.resolver.IndexGroup(c)
	}
	n.markDirty(c.ID())
	n.dispatch(c.ID(), func() { n.broadcast(c, nil) })
	core.LogDebug(n, "Created ", header.Kind, " ", c.ID())
	return c, nil
}

// CreateAccount sets up the account of the node: a public profile, owned by a new group that
// everyone can read, carrying the account name.
func (n *Node) CreateAccount(name string) (defn.ValueID, error) {
	group, err := n.CreateGroup()
	if err != nil {
		return "", err
	}
	if err := n.AddMember(group, defn.Everyone, defn.RoleReader); err != nil {
		return "", err
	}
	profile, err := n.CreateProfile(group)
	if err != nil {
		return "", err
	}
	if err := n.Set(profile, "name", []byte(name)); err != nil {
		return "", err
	}
	if err := n.Set(n.account, "name", []byte(name)); err != nil {
		return "", err
	}
	if err := n.Set(n.account, "profile", []byte(profile)); err != nil {
		return "", err
	}
	return profile, nil
}

// CreateGroup creates a group administered by the node's account.
func (n *Node) CreateGroup() (defn.ValueID, error) {
	c, err := n.create(&covalue.Header{
		Kind:       covalue.KindGroup,
		CreatedBy:  n.account,
		Uniqueness: defn.NewUniqueness(),
		CreatedAt:  n.now(),
	})
	if err != nil {
		return "", err
	}
	return c.ID(), nil
}

// CreateValue creates a map, list or stream owned by a group or by the node's account.
func (n *Node) CreateValue(kind covalue.Kind, owner defn.ValueID, meta string) (defn.ValueID, error) {
	switch kind {
	case covalue.KindMap, covalue.KindList, covalue.KindStream:
	default:
		return "", errors.Wrapf(ErrWrongKind, "cannot create a %s with an owner", kind)
	}
	owner = n.resolve(owner)
	if err := n.resolver.CheckOwner(kind, meta, owner); err != nil {
		return "", err
	}
	if !n.resolver.CanWrite(defn.Me, owner) {
		return "", errors.Wrapf(perm.ErrPermissionDenied, "%s cannot create values owned by %s", n.account, owner)
	}

	c, err := n.create(&covalue.Header{
		Kind:       kind,
		Owner:      owner,
		CreatedBy:  n.account,
		Meta:       meta,
		Uniqueness: defn.NewUniqueness(),
		CreatedAt:  n.now(),
	})
	if err != nil {
		return "", err
	}
	return c.ID(), nil
}

// CreateProfile creates a profile map. Profiles must be owned by a group.
func (n *Node) CreateProfile(owner defn.ValueID) (defn.ValueID, error) {
	return n.CreateValue(covalue.KindMap, owner, covalue.MetaProfile)
}

// writable returns the core of id if the node may write it and it is one of kinds.
func (n *Node) writable(id defn.ValueID, kinds ...covalue.Kind) (*covalue.Core, error) {
	if err := n.resolver.ValidateWrite(n.account, id); err != nil {
		return nil, err
	}
	c := n.values.Lookup(id)
	for _, k := range kinds {
		if c.Kind() == k {
			return c, nil
		}
	}
	return nil, errors.Wrapf(ErrWrongKind, "%s is a %s", id, c.Kind())
}

// Set sets a key of a map or account.
func (n *Node) Set(id defn.ValueID, key string, value []byte) error {
	c, err := n.writable(n.resolve(id), covalue.KindMap, covalue.KindAccount)
	if err != nil {
		return err
	}
	_, err = n.commit(c, covalue.SetChange(key, value))
	return err
}

// Delete removes a key of a map or account.
func (n *Node) Delete(id defn.ValueID, key string) error {
	c, err := n.writable(n.resolve(id), covalue.KindMap, covalue.KindAccount)
	if err != nil {
		return err
	}
	_, err = n.commit(c, covalue.DelChange(key))
	return err
}

// Insert inserts an item into a list after the item with the given id, or at the start when
// after is empty. It returns the id of the new item.
func (n *Node) Insert(id defn.ValueID, after string, value []byte) (string, error) {
	c, err := n.writable(id, covalue.KindList)
	if err != nil {
		return "", err
	}
	if after == "" {
		after = covalue.ListStart
	}
	tx, err := n.commit(c, covalue.InsChange(after, value))
	if err != nil {
		return "", err
	}
	return covalue.ItemID(tx.Session, tx.Index, 0), nil
}

// Remove removes an item from a list.
func (n *Node) Remove(id defn.ValueID, item string) error {
	c, err := n.writable(id, covalue.KindList)
	if err != nil {
		return err
	}
	_, err = n.commit(c, covalue.RmChange(item))
	return err
}

// Push appends an entry to our session of a stream.
func (n *Node) Push(id defn.ValueID, value []byte) error {
	c, err := n.writable(id, covalue.KindStream)
	if err != nil {
		return err
	}
	_, err = n.commit(c, covalue.PushChange(value))
	return err
}

// AddMember grants member a role in group. Member is an account id, "me" or "everyone".
func (n *Node) AddMember(group defn.ValueID, member string, role defn.Role) error {
	if role == defn.RoleNone {
		return errors.Wrap(perm.ErrInvalidRole, "use RemoveMember to revoke")
	}
	return n.grant(group, member, role)
}

// RemoveMember revokes the role of member in group. Access to what was written before is kept.
func (n *Node) RemoveMember(group defn.ValueID, member string) error {
	return n.grant(group, member, defn.RoleNone)
}

func (n *Node) grant(group defn.ValueID, member string, role defn.Role) error {
	if member == defn.Me {
		member = string(n.account)
	}
	if err := n.resolver.ValidateGrant(n.account, group, member, role); err != nil {
		return err
	}
	_, err := n.commit(n.values.Lookup(group), covalue.GrantChange(member, role))
	return err
}

// Extend makes child inherit the members of parent.
func (n *Node) Extend(child, parent defn.ValueID) error {
	if err := n.resolver.ValidateExtend(n.account, child, parent); err != nil {
		return err
	}
	_, err := n.commit(n.values.Lookup(child), covalue.ExtendChange(parent))
	return err
}
