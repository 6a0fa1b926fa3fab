/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package defn

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// ValueIDPrefix prefixes every replicated value identifier.
const ValueIDPrefix = "co_"

// sessionInfix separates the owning account from the stream suffix in a SessionID.
const sessionInfix = "_session_"

// Everyone is the pseudo-member that matches every account.
const Everyone = "everyone"

// Me is resolved to the identity of the local node.
const Me = "me"

// ValueID is the content-derived identifier of a replicated value.
type ValueID string

// AccountID is the ValueID of an Account value.
type AccountID = ValueID

// SessionID identifies one single-writer append stream of a value.
type SessionID string

// PeerID identifies a sync connection.
type PeerID string

// BatchID names a reconcile batch.
type BatchID string

// IsValid reports whether the identifier is shaped like a value identifier.
func (id ValueID) IsValid() bool {
	return len(id) > len(ValueIDPrefix) && strings.HasPrefix(string(id), ValueIDPrefix)
}

func (id ValueID) String() string {
	return string(id)
}

// NewSessionID creates a fresh session owned by the given account.
func NewSessionID(owner AccountID) SessionID {
	return SessionID(string(owner) + sessionInfix + strings.ToLower(ulid.Make().String()))
}

// Owner returns the account that owns the session, or "" if malformed.
func (s SessionID) Owner() AccountID {
	i := strings.Index(string(s), sessionInfix)
	if i <= 0 {
		return ""
	}
	return AccountID(s[:i])
}

func (s SessionID) String() string {
	return string(s)
}

// NewPeerID creates a random peer identifier with a readable prefix.
func NewPeerID(prefix string) PeerID {
	return PeerID(prefix + "-" + strings.ToLower(ulid.Make().String()))
}

// NewBatchID creates a random reconcile batch identifier.
func NewBatchID() BatchID {
	return BatchID("batch_" + strings.ToLower(ulid.Make().String()))
}

// NewUniqueness returns a random uniqueness token for value headers.
func NewUniqueness() string {
	return strings.ToLower(ulid.Make().String())
}
