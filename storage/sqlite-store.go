/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package storage

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/security"
	"github.com/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS headers (
	value_id TEXT PRIMARY KEY,
	header   BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	value_id TEXT NOT NULL,
	session  TEXT NOT NULL,
	idx      INTEGER NOT NULL,
	body     BLOB NOT NULL,
	PRIMARY KEY (value_id, session, idx)
);`

// SqliteStore implements Store on a sqlite database.
type SqliteStore struct {
	db *sql.DB
	sealer
}

// NewSqliteStore opens or creates a database. A non-nil key encrypts every record at rest.
func NewSqliteStore(path string, p security.Provider, key *security.KeySecret) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &SqliteStore{db: db, sealer: sealer{provider: p, key: key}}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) Put(id defn.ValueID, header *covalue.Header, txs []*covalue.Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow("SELECT COUNT(*) FROM headers WHERE value_id=?", string(id)).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		if header == nil {
			return errors.Errorf("no header stored for %s", id)
		}
		sealed, err := s.seal(header.Encode())
		if err != nil {
			return err
		}
		if _, err = tx.Exec("INSERT INTO headers (value_id, header) VALUES (?, ?)", string(id), sealed); err != nil {
			return errors.Wrapf(err, "insert header %s", id)
		}
	}

	for _, t := range txs {
		sealed, err := s.seal(t.Encode())
		if err != nil {
			return err
		}
		_, err = tx.Exec("INSERT OR IGNORE INTO transactions (value_id, session, idx, body) VALUES (?, ?, ?, ?)",
			string(id), string(t.Session), int64(t.Index), sealed)
		if err != nil {
			return errors.Wrapf(err, "insert %s", t)
		}
	}
	return tx.Commit()
}

func (s *SqliteStore) Get(id defn.ValueID) (*covalue.Header, []*covalue.Transaction, error) {
	var raw []byte
	err := s.db.QueryRow("SELECT header FROM headers WHERE value_id=?", string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	} else if err != nil {
		return nil, nil, err
	}
	plain, err := s.open(raw)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "header of %s", id)
	}
	header, err := covalue.DecodeHeader(plain)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query("SELECT body FROM transactions WHERE value_id=? ORDER BY session, idx", string(id))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var txs []*covalue.Transaction
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, nil, err
		}
		plain, err := s.open(body)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "transaction of %s", id)
		}
		t, err := covalue.DecodeTransaction(plain)
		if err != nil {
			return nil, nil, err
		}
		txs = append(txs, t)
	}
	return header, txs, rows.Err()
}

func (s *SqliteStore) List() ([]defn.ValueID, error) {
	rows, err := s.db.Query("SELECT value_id FROM headers ORDER BY value_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []defn.ValueID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, defn.ValueID(id))
	}
	return ids, rows.Err()
}
