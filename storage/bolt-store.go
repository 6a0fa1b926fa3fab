/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package storage

import (
	"encoding/binary"
	"sync"

	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/security"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	boltHeaders      = []byte("headers")
	boltTransactions = []byte("transactions")
	ErrBoltNoBucket  = errors.New("no bucket in bolt")
)

// BoltStore implements Store using bbolt.
// Headers live in one bucket keyed by value id. Transactions live in a nested bucket per value,
// keyed by the session followed by a zero byte and the 8-byte big endian index.
// Internal storage format is not stable. Do not rely on it.
type BoltStore struct {
	db *bolt.DB
	sealer
	wmut sync.Mutex
}

// NewBoltStore opens or creates a database. A non-nil key encrypts every record at rest.
func NewBoltStore(path string, p security.Provider, key *security.KeySecret) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltHeaders); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltTransactions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}

	return &BoltStore{db: db, sealer: sealer{provider: p, key: key}}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func txKey(session defn.SessionID, index uint64) []byte {
	key := make([]byte, len(session)+9)
	copy(key, session)
	binary.BigEndian.PutUint64(key[len(session)+1:], index)
	return key
}

func (s *BoltStore) Put(id defn.ValueID, header *covalue.Header, txs []*covalue.Transaction) error {
	// seal outside of the write lock
	var sealedHeader []byte
	var err error
	if header != nil {
		if sealedHeader, err = s.seal(header.Encode()); err != nil {
			return err
		}
	}
	keys := make([][]byte, len(txs))
	values := make([][]byte, len(txs))
	for i, tx := range txs {
		keys[i] = txKey(tx.Session, tx.Index)
		if values[i], err = s.seal(tx.Encode()); err != nil {
			return err
		}
	}

	s.wmut.Lock()
	defer s.wmut.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		headers := tx.Bucket(boltHeaders)
		all := tx.Bucket(boltTransactions)
		if headers == nil || all == nil {
			return ErrBoltNoBucket
		}

		if headers.Get([]byte(id)) == nil {
			if sealedHeader == nil {
				return errors.Errorf("no header stored for %s", id)
			}
			if err := headers.Put([]byte(id), sealedHeader); err != nil {
				return err
			}
		}

		if len(keys) == 0 {
			return nil
		}
		bucket, err := all.CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return err
		}
		for i := range keys {
			if bucket.Get(keys[i]) != nil {
				continue
			}
			if err := bucket.Put(keys[i], values[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Get(id defn.ValueID) (header *covalue.Header, txs []*covalue.Transaction, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		headers := tx.Bucket(boltHeaders)
		all := tx.Bucket(boltTransactions)
		if headers == nil || all == nil {
			return ErrBoltNoBucket
		}

		raw := headers.Get([]byte(id))
		if raw == nil {
			return nil
		}
		plain, err := s.open(raw)
		if err != nil {
			return errors.Wrapf(err, "header of %s", id)
		}
		if header, err = covalue.DecodeHeader(plain); err != nil {
			return err
		}

		bucket := all.Bucket([]byte(id))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			plain, err := s.open(v)
			if err != nil {
				return errors.Wrapf(err, "transaction of %s", id)
			}
			t, err := covalue.DecodeTransaction(plain)
			if err != nil {
				return err
			}
			txs = append(txs, t)
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return header, txs, nil
}

func (s *BoltStore) List() ([]defn.ValueID, error) {
	var ids []defn.ValueID
	err := s.db.View(func(tx *bolt.Tx) error {
		headers := tx.Bucket(boltHeaders)
		if headers == nil {
			return ErrBoltNoBucket
		}
		return headers.ForEach(func(k, _ []byte) error {
			ids = append(ids, defn.ValueID(k))
			return nil
		})
	})
	return ids, err
}
