/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

// Package keychain persists account secrets of the local node.
package keychain

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/security"
	"github.com/pkg/errors"
)

// ErrNoAccount is returned when the keychain holds no matching account.
var ErrNoAccount = errors.New("no such account in keychain")

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id TEXT PRIMARY KEY,
	secret     BLOB NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0
);`

// SqliteKeychain stores account secrets in a sqlite database.
type SqliteKeychain struct {
	db *sql.DB
}

// OpenSqlite opens (and creates if needed) a keychain database at path.
// Use ":memory:" for a throwaway keychain.
func OpenSqlite(path string) (*SqliteKeychain, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open keychain %s", path)
	}
	// a single connection keeps ":memory:" databases alive
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create keychain schema")
	}
	return &SqliteKeychain{db: db}, nil
}

// Close closes the underlying database.
func (k *SqliteKeychain) Close() error {
	return k.db.Close()
}

// Save stores the secret of an account. When isDefault is set, any previous default is cleared.
func (k *SqliteKeychain) Save(account defn.AccountID, secret security.SignerSecret, isDefault bool) error {
	tx, err := k.db.Begin()
	if err != nil {
		return err
	}
	if isDefault {
		if _, err = tx.Exec("UPDATE accounts SET is_default=0"); err != nil {
			tx.Rollback()
			return err
		}
	}
	_, err = tx.Exec(
		"INSERT OR REPLACE INTO accounts (account_id, secret, is_default) VALUES (?, ?, ?)",
		string(account), []byte(secret), isDefault)
	if err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "save %s", account)
	}
	return tx.Commit()
}

// Get returns the secret of an account.
func (k *SqliteKeychain) Get(account defn.AccountID) (security.SignerSecret, error) {
	var secret []byte
	err := k.db.QueryRow("SELECT secret FROM accounts WHERE account_id=?", string(account)).Scan(&secret)
	if err == sql.ErrNoRows {
		return nil, ErrNoAccount
	} else if err != nil {
		return nil, err
	}
	return security.SignerSecret(secret), nil
}

// Default returns the default account and its secret.
func (k *SqliteKeychain) Default() (defn.AccountID, security.SignerSecret, error) {
	var account string
	var secret []byte
	err := k.db.QueryRow("SELECT account_id, secret FROM accounts WHERE is_default=1").Scan(&account, &secret)
	if err == sql.ErrNoRows {
		return "", nil, ErrNoAccount
	} else if err != nil {
		return "", nil, err
	}
	return defn.AccountID(account), security.SignerSecret(secret), nil
}

// List returns all stored accounts.
func (k *SqliteKeychain) List() ([]defn.AccountID, error) {
	rows, err := k.db.Query("SELECT account_id FROM accounts ORDER BY account_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]defn.AccountID, 0)
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, err
		}
		ret = append(ret, defn.AccountID(account))
	}
	return ret, rows.Err()
}
