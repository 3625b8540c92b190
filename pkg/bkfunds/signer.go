package bkfunds

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"sort"
	"strings"

	pkgerrors "github.com/mmretail/settlement-backend/pkg/errors"
)

// Signer produces RSA2 (RSA-SHA256) signatures over the canonical form
// parameter serialization the platform verifies against.
type Signer struct {
	key *rsa.PrivateKey
}

// NewSigner parses a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
func NewSigner(privateKeyPEM string) (*Signer, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "platform private key is not valid PEM")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &Signer{key: key}, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfiguration, err, "parsing platform private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, fmt.Sprintf("platform private key must be RSA, got %T", parsed))
	}
	return &Signer{key: key}, nil
}

// Sign canonicalizes the parameter set (sorted by key, empty values and the
// sign field itself excluded, joined k=v&) and returns the base64 signature.
func (s *Signer) Sign(params map[string]string) (string, error) {
	if s == nil || s.key == nil {
		return "", pkgerrors.New(pkgerrors.CodeConfiguration, "signer not initialized")
	}

	digest := sha256.Sum256([]byte(CanonicalString(params)))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 signature against the canonical serialization using
// the signer's public key. Used in tests and for response verification when
// the platform echoes a signature back.
func (s *Signer) Verify(params map[string]string, signature string) error {
	if s == nil || s.key == nil {
		return pkgerrors.New(pkgerrors.CodeConfiguration, "signer not initialized")
	}
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}
	digest := sha256.Sum256([]byte(CanonicalString(params)))
	return rsa.VerifyPKCS1v15(&s.key.PublicKey, crypto.SHA256, digest[:], raw)
}

// CanonicalString builds the signing base: parameters sorted by key, empty
// values and "sign" skipped, serialized as k=v pairs joined with &.
func CanonicalString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, "&")
}
