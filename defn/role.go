/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package defn

// Role is the permission level an account holds over a value via its owning group.
type Role string

const (
	// RoleNone means no grant.
	RoleNone Role = ""
	// RoleAdmin may read, write and change membership.
	RoleAdmin Role = "admin"
	// RoleWriter may read and write.
	RoleWriter Role = "writer"
	// RoleReader may read.
	RoleReader Role = "reader"
	// RoleWriteOnly may write without reading.
	RoleWriteOnly Role = "writeOnly"
)

// ParseRole returns the role with the given name and whether it is known.
// The empty string parses to RoleNone.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleNone, RoleAdmin, RoleWriter, RoleReader, RoleWriteOnly:
		return Role(s), true
	}
	return RoleNone, false
}

// CanRead reports whether the role grants read access.
func (r Role) CanRead() bool {
	return r == RoleAdmin || r == RoleWriter || r == RoleReader
}

// CanWrite reports whether the role grants write access.
func (r Role) CanWrite() bool {
	return r == RoleAdmin || r == RoleWriter || r == RoleWriteOnly
}

// CanAdmin reports whether the role may change group membership.
func (r Role) CanAdmin() bool {
	return r == RoleAdmin
}

// ValidForEveryone reports whether the role may be granted to Everyone.
// RoleNone is accepted so that a grant can be withdrawn.
func (r Role) ValidForEveryone() bool {
	return r == RoleNone || r == RoleReader || r == RoleWriter
}

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}
