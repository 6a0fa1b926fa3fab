/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

// Package storage contains persistence collaborators for value logs.
package storage

import (
	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/security"
)

// Store persists value headers and transactions. Put is idempotent: known transactions are
// kept as they are. Get returns a nil header for unknown values.
type Store interface {
	Put(id defn.ValueID, header *covalue.Header, txs []*covalue.Transaction) error
	Get(id defn.ValueID) (*covalue.Header, []*covalue.Transaction, error)
	List() ([]defn.ValueID, error)
	Close() error
}

// sealer encrypts records at rest when a key is configured.
type sealer struct {
	provider security.Provider
	key      *security.KeySecret
}

func (s sealer) seal(b []byte) ([]byte, error) {
	if s.key == nil {
		return b, nil
	}
	return s.provider.Encrypt(b, s.key)
}

func (s sealer) open(b []byte) ([]byte, error) {
	if s.key == nil {
		return b, nil
	}
	return s.provider.Decrypt(b, s.key)
}

// Load rebuilds a core from a store. It returns nil if the value is unknown.
func Load(s Store, p security.Provider, id defn.ValueID) (*covalue.Core, error) {
	header, txs, err := s.Get(id)
	if err != nil || header == nil {
		return nil, err
	}
	c := covalue.NewCore(p, header)
	c.Merge(txs)
	return c, nil
}
