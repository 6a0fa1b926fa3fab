/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package covalue

import (
	"encoding/hex"

	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/security"
	"github.com/named-data/cosync/utils/pbfield"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind is the closed set of value kinds.
type Kind uint8

const (
	KindMap Kind = iota + 1
	KindList
	KindStream
	KindAccount
	KindGroup
)

// MetaProfile marks a map value used as an account profile.
const MetaProfile = "profile"

func (k Kind) String() string {
	switch k {
	case KindMap:
		return "comap"
	case KindList:
		return "colist"
	case KindStream:
		return "costream"
	case KindAccount:
		return "account"
	case KindGroup:
		return "group"
	}
	return "unknown"
}

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	return k >= KindMap && k <= KindGroup
}

// Header is the immutable description of a value. Its encoding determines the value id.
type Header struct {
	Kind Kind
	// Owner is the group or account governing access. Empty for groups and accounts.
	Owner defn.ValueID
	// CreatedBy is the creating account. For groups it is the implicit first admin.
	CreatedBy defn.AccountID
	// Signer is set only on account headers.
	Signer     security.SignerID
	Meta       string
	Uniqueness string
	CreatedAt  int64
}

const (
	hdrKind       protowire.Number = 1
	hdrOwner      protowire.Number = 2
	hdrCreatedBy  protowire.Number = 3
	hdrSigner     protowire.Number = 4
	hdrMeta       protowire.Number = 5
	hdrUniqueness protowire.Number = 6
	hdrCreatedAt  protowire.Number = 7
)

// Encode returns the canonical encoding of the header.
func (h *Header) Encode() []byte {
	b := pbfield.AppendVarint(nil, hdrKind, uint64(h.Kind))
	b = pbfield.AppendString(b, hdrOwner, string(h.Owner))
	b = pbfield.AppendString(b, hdrCreatedBy, string(h.CreatedBy))
	b = pbfield.AppendString(b, hdrSigner, string(h.Signer))
	b = pbfield.AppendString(b, hdrMeta, h.Meta)
	b = pbfield.AppendString(b, hdrUniqueness, h.Uniqueness)
	b = pbfield.AppendSigned(b, hdrCreatedAt, h.CreatedAt)
	return b
}

// DecodeHeader parses a header produced by Encode.
func DecodeHeader(b []byte) (*Header, error) {
	h := &Header{}
	err := pbfield.ForEach(b, func(field protowire.Number, val []byte, num uint64) error {
		switch field {
		case hdrKind:
			h.Kind = Kind(num)
		case hdrOwner:
			h.Owner = defn.ValueID(val)
		case hdrCreatedBy:
			h.CreatedBy = defn.AccountID(val)
		case hdrSigner:
			h.Signer = security.SignerID(val)
		case hdrMeta:
			h.Meta = string(val)
		case hdrUniqueness:
			h.Uniqueness = string(val)
		case hdrCreatedAt:
			h.CreatedAt = protowire.DecodeZigZag(num)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if !h.Kind.IsValid() {
		return nil, errors.Wrapf(ErrMalformed, "unknown kind %d", h.Kind)
	}
	return h, nil
}

// ID derives the value id from the header hash.
func (h *Header) ID(p security.Provider) defn.ValueID {
	sum := p.Hash(h.Encode())
	return defn.ValueID(defn.ValueIDPrefix + hex.EncodeToString(sum[:16]))
}

// AccountHeader returns the header of the account controlled by signer.
func AccountHeader(signer security.SignerID) *Header {
	return &Header{Kind: KindAccount, Signer: signer}
}

// AccountIDForSigner recomputes the self-certifying account id of a signer.
func AccountIDForSigner(p security.Provider, signer security.SignerID) defn.AccountID {
	return AccountHeader(signer).ID(p)
}
