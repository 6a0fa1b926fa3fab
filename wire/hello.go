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
	"github.com/pkg/errors"
)

// ErrBadHello is returned when a hello does not prove control of its account.
var ErrBadHello = errors.New("hello is not signed by the claimed account")

// NewHello builds a signed hello for the given account. A nil agent yields a transient hello.
func NewHello(agent *security.Agent, account defn.AccountID, role defn.PeerRole, now int64) (*Hello, error) {
	m := &Hello{Role: role, Timestamp: now}
	if agent == nil {
		return m, nil
	}
	m.Account = account
	m.Signer = agent.Signer()
	sig, err := agent.Sign(m.SignedBytes())
	if err != nil {
		return nil, errors.Wrap(err, "sign hello")
	}
	m.Signature = sig
	return m, nil
}

// IsTransient reports whether the hello carries no identity.
func (m *Hello) IsTransient() bool {
	return m.Account == ""
}

// Verify checks that the signer controls the account and signed the hello.
func (m *Hello) Verify(p security.Provider) error {
	if m.IsTransient() {
		return nil
	}
	if covalue.AccountIDForSigner(p, m.Signer) != m.Account {
		return errors.Wrapf(ErrBadHello, "%s", m.Account)
	}
	if !p.Verify(m.SignedBytes(), m.Signature, m.Signer) {
		return errors.Wrapf(ErrBadHello, "%s", m.Account)
	}
	return nil
}
