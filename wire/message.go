/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

// Package wire defines the sync messages exchanged between peers and their binary framing.
package wire

import (
	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/security"
	"github.com/named-data/cosync/utils/pbfield"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// MessageType identifies the kind of a sync message.
type MessageType uint8

const (
	TypeHello MessageType = iota + 1
	TypeLoad
	TypeKnown
	TypeContent
	TypeReconcileBatch
)

func (t MessageType) String() string {
	switch t {
	case TypeHello:
		return "hello"
	case TypeLoad:
		return "load"
	case TypeKnown:
		return "known"
	case TypeContent:
		return "content"
	case TypeReconcileBatch:
		return "reconcile"
	}
	return "unknown"
}

// ErrUnknownMessage is returned when decoding a frame of an unknown type.
var ErrUnknownMessage = errors.New("unknown message type")

// Message is a sync message. One message travels per transport frame.
type Message interface {
	Type() MessageType
	Priority() defn.Priority
	encodeBody() []byte
}

// Hello opens a connection and authenticates the sending account.
// An empty Account denotes a transient identity that is never authenticated.
type Hello struct {
	Account   defn.AccountID
	Signer    security.SignerID
	Role      defn.PeerRole
	Timestamp int64
	Signature []byte
}

// Load asks a peer for a value, telling it what is already known.
type Load struct {
	Known *covalue.KnownState
}

// Known reports what the sender holds of a value. Known.Header is false when the sender
// does not have the value at all.
type Known struct {
	Known *covalue.KnownState
}

// Content carries transactions the receiver is missing.
type Content struct {
	Content *covalue.Content
}

// ReconcileBatch announces what the sender holds of many values, for bulk reconciliation.
type ReconcileBatch struct {
	Batch   defn.BatchID
	Entries []*covalue.KnownState
}

func (*Hello) Type() MessageType          { return TypeHello }
func (*Load) Type() MessageType           { return TypeLoad }
func (*Known) Type() MessageType          { return TypeKnown }
func (*Content) Type() MessageType        { return TypeContent }
func (*ReconcileBatch) Type() MessageType { return TypeReconcileBatch }

func (*Hello) Priority() defn.Priority          { return defn.PriorityHigh }
func (*Load) Priority() defn.Priority           { return defn.PriorityMedium }
func (*Known) Priority() defn.Priority          { return defn.PriorityHigh }
func (*ReconcileBatch) Priority() defn.Priority { return defn.PriorityLow }

func (m *Content) Priority() defn.Priority {
	if m.Content != nil && m.Content.Header != nil {
		return m.Content.Header.Priority()
	}
	return defn.PriorityMedium
}

const (
	envType protowire.Number = 1
	envBody protowire.Number = 2
)

// Encode frames a message.
func Encode(m Message) []byte {
	b := pbfield.AppendVarint(nil, envType, uint64(m.Type()))
	b = protowire.AppendTag(b, envBody, protowire.BytesType)
	return protowire.AppendBytes(b, m.encodeBody())
}

// Decode parses one frame.
func Decode(frame []byte) (Message, error) {
	var typ MessageType
	var body []byte
	err := pbfield.ForEach(frame, func(field protowire.Number, val []byte, num uint64) error {
		switch field {
		case envType:
			typ = MessageType(num)
		case envBody:
			body = val
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "frame")
	}

	var m Message
	switch typ {
	case TypeHello:
		m, err = decodeHello(body)
	case TypeLoad:
		var ks *covalue.KnownState
		ks, err = decodeKnownState(body)
		m = &Load{Known: ks}
	case TypeKnown:
		var ks *covalue.KnownState
		ks, err = decodeKnownState(body)
		m = &Known{Known: ks}
	case TypeContent:
		var c *covalue.Content
		c, err = decodeContent(body)
		m = &Content{Content: c}
	case TypeReconcileBatch:
		m, err = decodeReconcileBatch(body)
	default:
		return nil, errors.Wrapf(ErrUnknownMessage, "%d", typ)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s message", typ)
	}
	return m, nil
}
