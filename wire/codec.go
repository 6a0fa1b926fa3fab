/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package wire

import (
	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/security"
	"github.com/named-data/cosync/utils/pbfield"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	helloAccount   protowire.Number = 1
	helloSigner    protowire.Number = 2
	helloRole      protowire.Number = 3
	helloTimestamp protowire.Number = 4
	helloSignature protowire.Number = 5

	knownID      protowire.Number = 1
	knownHeader  protowire.Number = 2
	knownSession protowire.Number = 3

	sessionName  protowire.Number = 1
	sessionCount protowire.Number = 2
	sessionTx    protowire.Number = 3

	contentID      protowire.Number = 1
	contentHeader  protowire.Number = 2
	contentSession protowire.Number = 3

	batchID    protowire.Number = 1
	batchEntry protowire.Number = 2
)

func appendMessage(b []byte, field protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// SignedBytes returns the part of the hello covered by its signature.
func (m *Hello) SignedBytes() []byte {
	b := pbfield.AppendString(nil, helloAccount, string(m.Account))
	b = pbfield.AppendString(b, helloSigner, string(m.Signer))
	// Roles start at zero, so they are shifted to keep the field present.
	b = pbfield.AppendVarint(b, helloRole, uint64(m.Role)+1)
	return pbfield.AppendSigned(b, helloTimestamp, m.Timestamp)
}

func (m *Hello) encodeBody() []byte {
	return pbfield.AppendBytes(m.SignedBytes(), helloSignature, m.Signature)
}

func decodeHello(b []byte) (*Hello, error) {
	m := &Hello{}
	err := pbfield.ForEach(b, func(field protowire.Number, val []byte, num uint64) error {
		switch field {
		case helloAccount:
			m.Account = defn.AccountID(val)
		case helloSigner:
			m.Signer = security.SignerID(val)
		case helloRole:
			if num == 0 {
				return errors.New("bad role")
			}
			m.Role = defn.PeerRole(num - 1)
		case helloTimestamp:
			m.Timestamp = protowire.DecodeZigZag(num)
		case helloSignature:
			m.Signature = pbfield.Copy(val)
		}
		return nil
	})
	return m, err
}

func encodeKnownState(ks *covalue.KnownState) []byte {
	if ks == nil {
		return nil
	}
	b := pbfield.AppendString(nil, knownID, string(ks.ID))
	b = pbfield.AppendBool(b, knownHeader, ks.Header)
	for _, s := range sortedSessions(ks.Sessions) {
		e := pbfield.AppendString(nil, sessionName, string(s))
		e = protowire.AppendTag(e, sessionCount, protowire.VarintType)
		e = protowire.AppendVarint(e, ks.Sessions[s])
		b = appendMessage(b, knownSession, e)
	}
	return b
}

func decodeKnownState(b []byte) (*covalue.KnownState, error) {
	ks := &covalue.KnownState{Sessions: make(map[defn.SessionID]uint64)}
	err := pbfield.ForEach(b, func(field protowire.Number, val []byte, num uint64) error {
		switch field {
		case knownID:
			ks.ID = defn.ValueID(val)
		case knownHeader:
			ks.Header = num != 0
		case knownSession:
			var name defn.SessionID
			var count uint64
			err := pbfield.ForEach(val, func(field protowire.Number, val []byte, num uint64) error {
				switch field {
				case sessionName:
					name = defn.SessionID(val)
				case sessionCount:
					count = num
				}
				return nil
			})
			if err != nil {
				return err
			}
			ks.Sessions[name] = count
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !ks.ID.IsValid() {
		return nil, errors.Errorf("invalid value id %q", ks.ID)
	}
	return ks, nil
}

func (m *Load) encodeBody() []byte {
	return encodeKnownState(m.Known)
}

func (m *Known) encodeBody() []byte {
	return encodeKnownState(m.Known)
}

func (m *Content) encodeBody() []byte {
	c := m.Content
	b := pbfield.AppendString(nil, contentID, string(c.ID))
	if c.Header != nil {
		b = appendMessage(b, contentHeader, c.Header.Encode())
	}
	for _, s := range sortedSessions(c.Sessions) {
		e := pbfield.AppendString(nil, sessionName, string(s))
		for _, tx := range c.Sessions[s] {
			e = appendMessage(e, sessionTx, tx.Encode())
		}
		b = appendMessage(b, contentSession, e)
	}
	return b
}

func decodeContent(b []byte) (*covalue.Content, error) {
	c := &covalue.Content{Sessions: make(map[defn.SessionID][]*covalue.Transaction)}
	err := pbfield.ForEach(b, func(field protowire.Number, val []byte, num uint64) error {
		switch field {
		case contentID:
			c.ID = defn.ValueID(val)
		case contentHeader:
			h, err := covalue.DecodeHeader(val)
			if err != nil {
				return err
			}
			c.Header = h
		case contentSession:
			var name defn.SessionID
			var txs []*covalue.Transaction
			err := pbfield.ForEach(val, func(field protowire.Number, val []byte, num uint64) error {
				switch field {
				case sessionName:
					name = defn.SessionID(val)
				case sessionTx:
					tx, err := covalue.DecodeTransaction(val)
					if err != nil {
						return err
					}
					txs = append(txs, tx)
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, tx := range txs {
				if tx.Session != name {
					return errors.Errorf("transaction %s filed under session %s", tx, name)
				}
			}
			c.Sessions[name] = append(c.Sessions[name], txs...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !c.ID.IsValid() {
		return nil, errors.Errorf("invalid value id %q", c.ID)
	}
	return c, nil
}

func (m *ReconcileBatch) encodeBody() []byte {
	b := pbfield.AppendString(nil, batchID, string(m.Batch))
	for _, ks := range m.Entries {
		b = appendMessage(b, batchEntry, encodeKnownState(ks))
	}
	return b
}

func decodeReconcileBatch(b []byte) (*ReconcileBatch, error) {
	m := &ReconcileBatch{}
	err := pbfield.ForEach(b, func(field protowire.Number, val []byte, num uint64) error {
		switch field {
		case batchID:
			m.Batch = defn.BatchID(val)
		case batchEntry:
			ks, err := decodeKnownState(val)
			if err != nil {
				return err
			}
			m.Entries = append(m.Entries, ks)
		}
		return nil
	})
	return m, err
}
