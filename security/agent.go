/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package security

// Agent is a signing identity: a secret plus the provider that uses it.
type Agent struct {
	provider Provider
	secret   SignerSecret
	signer   SignerID
}

// NewAgent creates an agent with a fresh secret.
func NewAgent(provider Provider) (*Agent, error) {
	secret, err := provider.NewSignerSecret()
	if err != nil {
		return nil, err
	}
	return AgentFromSecret(provider, secret)
}

// AgentFromSecret restores an agent from a stored secret.
func AgentFromSecret(provider Provider, secret SignerSecret) (*Agent, error) {
	signer, err := provider.SignerIDOf(secret)
	if err != nil {
		return nil, err
	}
	return &Agent{
		provider: provider,
		secret:   append(SignerSecret(nil), secret...),
		signer:   signer,
	}, nil
}

func (a *Agent) String() string {
	return "Agent-" + string(a.signer)[len(SignerIDPrefix):len(SignerIDPrefix)+8]
}

// Signer returns the public signer id of the agent.
func (a *Agent) Signer() SignerID {
	return a.signer
}

// Secret returns a copy of the secret, for persisting in a keychain.
func (a *Agent) Secret() SignerSecret {
	return append(SignerSecret(nil), a.secret...)
}

// Provider returns the provider of the agent.
func (a *Agent) Provider() Provider {
	return a.provider
}

// Sign signs data with the agent's secret.
func (a *Agent) Sign(data []byte) (Signature, error) {
	return a.provider.Sign(data, a.secret)
}
