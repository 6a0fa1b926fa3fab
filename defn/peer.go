/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package defn

// PeerRole is the role a peer declares when it connects. It is fixed for the connection lifetime.
type PeerRole int

const (
	// PeerClient is an end-user client; permission-gated and subscription driven.
	PeerClient PeerRole = iota
	// PeerServer is a relay server; authoritative upstream for the node.
	PeerServer
	// PeerStorage is a persistent storage backend; reconciled proactively.
	PeerStorage
)

// IsUpstream reports whether the node pushes its local changes to peers of this role.
func (r PeerRole) IsUpstream() bool {
	return r == PeerServer || r == PeerStorage
}

func (r PeerRole) String() string {
	switch r {
	case PeerClient:
		return "client"
	case PeerServer:
		return "server"
	case PeerStorage:
		return "storage"
	}
	return "unknown"
}

// ParsePeerRole parses the textual form produced by String.
func ParsePeerRole(s string) (PeerRole, bool) {
	switch s {
	case "client":
		return PeerClient, true
	case "server":
		return PeerServer, true
	case "storage":
		return PeerStorage, true
	}
	return PeerClient, false
}

// Priority is a message priority level. Lower numbers are served first.
type Priority uint8

const (
	// NumPriorities is the number of fixed priority levels.
	NumPriorities = 8

	// PriorityHigh is used for account, group and handshake traffic.
	PriorityHigh Priority = 0
	// PriorityMedium is the default for ordinary values.
	PriorityMedium Priority = 3
	// PriorityLow is used for bulk reconciliation.
	PriorityLow Priority = 6
)
