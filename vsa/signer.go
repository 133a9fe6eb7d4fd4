package vsa

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"
)

// ED25519Verifier verifies DSSE signatures made with an ed25519 key.
type ED25519Verifier struct {
	pub   ed25519.PublicKey
	keyID string
}

// NewED25519Verifier returns a verifier for pub. The key id is the hex
// sha256 digest of the raw public key.
func NewED25519Verifier(pub ed25519.PublicKey) (*ED25519Verifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes", ErrInvalidKey, len(pub))
	}
	return &ED25519Verifier{
		pub:   pub,
		keyID: digest.FromBytes(pub).Encoded(),
	}, nil
}

// Verify reports whether sig is a valid signature of data.
func (v *ED25519Verifier) Verify(_ context.Context, data, sig []byte) error {
	if !ed25519.Verify(v.pub, data, sig) {
		return errors.New("ed25519 signature mismatch")
	}
	return nil
}

// KeyID returns the key identifier.
func (v *ED25519Verifier) KeyID() (string, error) { return v.keyID, nil }

// Public returns the public key.
func (v *ED25519Verifier) Public() crypto.PublicKey { return v.pub }

// ED25519Signer signs DSSE envelopes with an ed25519 key.
type ED25519Signer struct {
	*ED25519Verifier
	priv ed25519.PrivateKey
}

// NewED25519Signer returns a signer for priv.
func NewED25519Signer(priv ed25519.PrivateKey) (*ED25519Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key is %d bytes", ErrInvalidKey, len(priv))
	}
	pub, _ := priv.Public().(ed25519.PublicKey)
	v, err := NewED25519Verifier(pub)
	if err != nil {
		return nil, err
	}
	return &ED25519Signer{ED25519Verifier: v, priv: priv}, nil
}

// Sign signs data.
func (s *ED25519Signer) Sign(_ context.Context, data []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, data), nil
}

// ParseED25519Key decodes a PEM encoded PKCS #8 ed25519 private key.
func ParseED25519Key(data []byte) (*ED25519Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an ed25519 key", ErrInvalidKey, key)
	}
	return NewED25519Signer(priv)
}

// LoadED25519Key reads a signing key from path.
func LoadED25519Key(path string) (*ED25519Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vsa: read signing key: %w", err)
	}
	return ParseED25519Key(data)
}
