/* CoSync - Collaborative value synchronization engine
 *
 * Copyright (C) 2020-2024 Eric Newberry.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/secretbox"
)

// SignerIDPrefix prefixes the textual form of a public signing key.
const SignerIDPrefix = "signer_"

// SignerID is the textual public half of a signing key.
type SignerID string

// SignerSecret is the private seed of a signing key.
type SignerSecret []byte

// Signature is a detached signature.
type Signature []byte

// KeySecret is a symmetric key used by Encrypt and Decrypt.
type KeySecret [32]byte

var (
	ErrDecrypt   = errors.New("unable to decrypt sealed data")
	ErrBadSecret = errors.New("malformed signer secret")
)

// Provider is the cryptographic provider used by the transaction log and the storage layer.
// Implementations must be safe for concurrent use.
type Provider interface {
	Sign(data []byte, secret SignerSecret) (Signature, error)
	Verify(data []byte, sig Signature, signer SignerID) bool
	Hash(data []byte) []byte
	Encrypt(plain []byte, key *KeySecret) ([]byte, error)
	Decrypt(sealed []byte, key *KeySecret) ([]byte, error)

	NewSignerSecret() (SignerSecret, error)
	SignerIDOf(secret SignerSecret) (SignerID, error)
}

// edBlakeProvider signs with ed25519, hashes with blake2b-256 and seals with nacl secretbox.
type edBlakeProvider struct{}

// NewProvider returns the default provider.
func NewProvider() Provider {
	return edBlakeProvider{}
}

func (edBlakeProvider) Sign(data []byte, secret SignerSecret) (Signature, error) {
	if len(secret) != ed25519.SeedSize {
		return nil, ErrBadSecret
	}
	key := ed25519.NewKeyFromSeed(secret)
	return Signature(ed25519.Sign(key, data)), nil
}

func (edBlakeProvider) Verify(data []byte, sig Signature, signer SignerID) bool {
	pub, err := signer.PublicKey()
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

func (edBlakeProvider) Hash(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

func (edBlakeProvider) Encrypt(plain []byte, key *KeySecret) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errors.Wrap(err, "nonce")
	}
	k := [32]byte(*key)
	return secretbox.Seal(nonce[:], plain, &nonce, &k), nil
}

func (edBlakeProvider) Decrypt(sealed []byte, key *KeySecret) ([]byte, error) {
	if len(sealed) < 24+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	k := [32]byte(*key)
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &k)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

func (edBlakeProvider) NewSignerSecret() (SignerSecret, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, errors.Wrap(err, "seed")
	}
	return SignerSecret(seed), nil
}

func (edBlakeProvider) SignerIDOf(secret SignerSecret) (SignerID, error) {
	if len(secret) != ed25519.SeedSize {
		return "", ErrBadSecret
	}
	pub := ed25519.NewKeyFromSeed(secret).Public().(ed25519.PublicKey)
	return SignerID(SignerIDPrefix + hex.EncodeToString(pub)), nil
}

// PublicKey decodes the ed25519 public key in the signer id.
func (s SignerID) PublicKey() (ed25519.PublicKey, error) {
	if !strings.HasPrefix(string(s), SignerIDPrefix) {
		return nil, errors.Errorf("signer id %q lacks prefix", s)
	}
	raw, err := hex.DecodeString(string(s)[len(SignerIDPrefix):])
	if err != nil {
		return nil, errors.Wrapf(err, "signer id %q", s)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.Errorf("signer id %q has wrong length", s)
	}
	return ed25519.PublicKey(raw), nil
}

// ParseKeySecret decodes a hex encoded 32-byte symmetric key.
func ParseKeySecret(s string) (*KeySecret, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "key secret")
	}
	if len(raw) != 32 {
		return nil, errors.New("key secret must be 32 bytes")
	}
	key := KeySecret{}
	copy(key[:], raw)
	return &key, nil
}
