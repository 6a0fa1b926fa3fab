/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package covalue

import (
	"fmt"

	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/security"
	"github.com/named-data/cosync/utils/pbfield"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Op is the operation carried by a change.
type Op uint8

const (
	OpSet Op = iota + 1
	OpDel
	OpIns
	OpRm
	OpPush
	OpGrant
	OpExtend
)

// ListStart is the insertion reference for the head of a list.
const ListStart = "start"

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpDel:
		return "del"
	case OpIns:
		return "ins"
	case OpRm:
		return "rm"
	case OpPush:
		return "push"
	case OpGrant:
		return "grant"
	case OpExtend:
		return "extend"
	}
	return "unknown"
}

// Change is one operation inside a transaction.
type Change struct {
	Op    Op
	Key   string
	Value []byte
}

// SetChange sets a map key.
func SetChange(key string, value []byte) Change {
	return Change{Op: OpSet, Key: key, Value: value}
}

// DelChange deletes a map key.
func DelChange(key string) Change {
	return Change{Op: OpDel, Key: key}
}

// InsChange inserts a list item after the item with the given id, or after ListStart.
func InsChange(after string, value []byte) Change {
	return Change{Op: OpIns, Key: after, Value: value}
}

// RmChange removes a list item.
func RmChange(item string) Change {
	return Change{Op: OpRm, Key: item}
}

// PushChange appends to the author's stream session.
func PushChange(value []byte) Change {
	return Change{Op: OpPush, Value: value}
}

// GrantChange sets the role of a group member. RoleNone removes the member.
func GrantChange(member string, role defn.Role) Change {
	return Change{Op: OpGrant, Key: member, Value: []byte(role)}
}

// ExtendChange makes the group inherit members from parent.
func ExtendChange(parent defn.ValueID) Change {
	return Change{Op: OpExtend, Key: string(parent)}
}

// Transaction is a signed batch of changes appended to one session.
type Transaction struct {
	Session   defn.SessionID
	Index     uint64
	MadeAt    int64
	Changes   []Change
	Signer    security.SignerID
	Signature security.Signature
}

// ItemID names the list item created by the n-th change of a transaction.
func ItemID(session defn.SessionID, index uint64, n int) string {
	return fmt.Sprintf("%s:%d:%d", session, index, n)
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("%s/%d", tx.Session, tx.Index)
}

// Author is the account that owns the transaction's session.
func (tx *Transaction) Author() defn.AccountID {
	return tx.Session.Owner()
}

// NewTransaction builds and signs a transaction for the value with the given id.
func NewTransaction(agent *security.Agent, id defn.ValueID, session defn.SessionID, index uint64,
	madeAt int64, changes []Change) (*Transaction, error) {
	tx := &Transaction{
		Session: session,
		Index:   index,
		MadeAt:  madeAt,
		Changes: changes,
		Signer:  agent.Signer(),
	}
	sig, err := agent.Sign(tx.signedBytes(id))
	if err != nil {
		return nil, errors.Wrapf(err, "sign %s", tx)
	}
	tx.Signature = sig
	return tx, nil
}

// Verify checks that the signer controls the session owner and that the signature covers the transaction.
func (tx *Transaction) Verify(p security.Provider, id defn.ValueID) error {
	owner := tx.Session.Owner()
	if owner == "" {
		return errors.Wrapf(ErrInvalidSession, "%s", tx)
	}
	if AccountIDForSigner(p, tx.Signer) != owner {
		return errors.Wrapf(ErrBadSignature, "%s: signer is not the session owner", tx)
	}
	if !p.Verify(tx.signedBytes(id), tx.Signature, tx.Signer) {
		return errors.Wrapf(ErrBadSignature, "%s", tx)
	}
	return nil
}

const (
	txSession   protowire.Number = 1
	txIndex     protowire.Number = 2
	txMadeAt    protowire.Number = 3
	txChange    protowire.Number = 4
	txSigner    protowire.Number = 5
	txSignature protowire.Number = 6
	txValueID   protowire.Number = 15

	chOp    protowire.Number = 1
	chKey   protowire.Number = 2
	chValue protowire.Number = 3
)

func (tx *Transaction) appendBody(b []byte) []byte {
	b = pbfield.AppendString(b, txSession, string(tx.Session))
	b = pbfield.AppendVarint(b, txIndex, tx.Index)
	b = pbfield.AppendSigned(b, txMadeAt, tx.MadeAt)
	for _, c := range tx.Changes {
		b = protowire.AppendTag(b, txChange, protowire.BytesType)
		b = protowire.AppendBytes(b, c.encode())
	}
	return b
}

func (tx *Transaction) signedBytes(id defn.ValueID) []byte {
	b := pbfield.AppendString(nil, txValueID, string(id))
	b = tx.appendBody(b)
	return pbfield.AppendString(b, txSigner, string(tx.Signer))
}

// Encode returns the wire encoding of the transaction including its signature.
func (tx *Transaction) Encode() []byte {
	b := tx.appendBody(nil)
	b = pbfield.AppendString(b, txSigner, string(tx.Signer))
	return pbfield.AppendBytes(b, txSignature, tx.Signature)
}

// DecodeTransaction parses a transaction produced by Encode.
func DecodeTransaction(b []byte) (*Transaction, error) {
	tx := &Transaction{}
	err := pbfield.ForEach(b, func(field protowire.Number, val []byte, num uint64) error {
		switch field {
		case txSession:
			tx.Session = defn.SessionID(val)
		case txIndex:
			tx.Index = num
		case txMadeAt:
			tx.MadeAt = protowire.DecodeZigZag(num)
		case txChange:
			c, err := decodeChange(val)
			if err != nil {
				return err
			}
			tx.Changes = append(tx.Changes, c)
		case txSigner:
			tx.Signer = security.SignerID(val)
		case txSignature:
			tx.Signature = pbfield.Copy(val)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if tx.Session == "" {
		return nil, errors.Wrap(ErrMalformed, "transaction without session")
	}
	return tx, nil
}

func (c Change) encode() []byte {
	b := pbfield.AppendVarint(nil, chOp, uint64(c.Op))
	b = pbfield.AppendString(b, chKey, c.Key)
	return pbfield.AppendBytes(b, chValue, c.Value)
}

func decodeChange(b []byte) (Change, error) {
	c := Change{}
	err := pbfield.ForEach(b, func(field protowire.Number, val []byte, num uint64) error {
		switch field {
		case chOp:
			c.Op = Op(num)
		case chKey:
			c.Key = string(val)
		case chValue:
			c.Value = pbfield.Copy(val)
		}
		return nil
	})
	return c, err
}
