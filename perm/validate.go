/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package perm

import (
	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/pkg/errors"
)

// CheckOwner validates the owner of a new value. Profiles must be owned by a group; other
// values by a group or an account. Groups and accounts have no owner.
func (r *Resolver) CheckOwner(kind covalue.Kind, meta string, owner defn.ValueID) error {
	if kind == covalue.KindGroup || kind == covalue.KindAccount {
		if owner != "" {
			return errors.Wrapf(ErrInvalidOwner, "%s cannot have an owner", kind)
		}
		return nil
	}

	oc := r.source.Lookup(owner)
	if oc == nil {
		return errors.Wrapf(ErrInvalidOwner, "owner %q is not loaded", owner)
	}
	if meta == covalue.MetaProfile && oc.Kind() != covalue.KindGroup {
		return errors.Wrap(ErrInvalidOwner, "profiles should be owned by a group")
	}
	if oc.Kind() != covalue.KindGroup && oc.Kind() != covalue.KindAccount {
		return errors.Wrapf(ErrInvalidOwner, "owner %s is a %s", owner, oc.Kind())
	}
	return nil
}

func (r *Resolver) groupState(group defn.ValueID) (*covalue.GroupState, error) {
	c := r.source.Lookup(group)
	if c == nil {
		return nil, errors.Wrapf(ErrUnknownValue, "%s", group)
	}
	if c.Kind() != covalue.KindGroup {
		return nil, errors.Wrapf(ErrInvalidOwner, "%s is a %s, not a group", group, c.Kind())
	}
	return c.State().(*covalue.GroupState), nil
}

// ValidateGrant checks that caller may set the role of member in group.
// Members may always remove themselves.
func (r *Resolver) ValidateGrant(caller defn.AccountID, group defn.ValueID, member string, role defn.Role) error {
	member = r.subject(member)
	if _, ok := defn.ParseRole(string(role)); !ok {
		return errors.Wrapf(ErrInvalidRole, "unknown role %q", role)
	}
	if member == defn.Everyone && !role.ValidForEveryone() {
		return errors.Wrapf(ErrInvalidRole, "everyone cannot be %s", role)
	}
	if member == "" {
		return errors.Wrap(ErrInvalidRole, "empty member")
	}
	state, err := r.groupState(group)
	if err != nil {
		return err
	}
	if member == string(caller) && role == defn.RoleNone {
		return nil
	}
	if !state.RoleOf(string(caller)).CanAdmin() {
		return errors.Wrapf(ErrPermissionDenied, "%s is not an admin of %s", caller, group)
	}
	return nil
}

// ValidateExtend checks that caller may make child inherit from parent.
func (r *Resolver) ValidateExtend(caller defn.AccountID, child, parent defn.ValueID) error {
	state, err := r.groupState(child)
	if err != nil {
		return err
	}
	if _, err := r.groupState(parent); err != nil {
		return err
	}
	if !state.RoleOf(string(caller)).CanAdmin() {
		return errors.Wrapf(ErrPermissionDenied, "%s is not an admin of %s", caller, child)
	}
	if r.WouldCycle(child, parent) {
		return errors.Wrapf(ErrCycle, "%s -> %s", child, parent)
	}
	return nil
}

// ValidateWrite checks that caller may currently write to a value.
func (r *Resolver) ValidateWrite(caller defn.AccountID, id defn.ValueID) error {
	c := r.source.Lookup(id)
	if c == nil {
		return errors.Wrapf(ErrUnknownValue, "%s", id)
	}
	if c.Kind() == covalue.KindGroup {
		return errors.Wrapf(ErrPermissionDenied, "%s is a group; use membership operations", id)
	}
	if !r.CanWrite(string(caller), id) {
		return errors.Wrapf(ErrPermissionDenied, "%s cannot write %s", caller, id)
	}
	return nil
}
