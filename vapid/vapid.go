// Package vapid handles the server-identifying key material a client must
// present when creating a push subscription: URL-safe base64 codec, strict
// public key validation, and P-256 key pair generation.
package vapid

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/peergrade/pushsync/errors"
)

// PublicKeyLength is the byte length of an uncompressed P-256 public key
// point (0x04 prefix + two 32-byte coordinates).
const PublicKeyLength = 65

// EncodeKey encodes raw key bytes as URL-safe base64 without padding, the
// form served over the wire.
func EncodeKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

// DecodeKey reverses EncodeKey exactly: URL-safe alphabet mapped back to the
// standard one (`-`→`+`, `_`→`/`) and padding restored before decoding. Any
// malformed input surfaces as ErrKey; the platform rejects a single wrong
// byte, so the failure has to be typed rather than swallowed.
func DecodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, errors.Wrap(errors.ErrKey, "empty key")
	}

	normalized := strings.ReplaceAll(encoded, "-", "+")
	normalized = strings.ReplaceAll(normalized, "_", "/")
	if pad := len(normalized) % 4; pad != 0 {
		normalized += strings.Repeat("=", 4-pad)
	}

	raw, err := base64.StdEncoding.DecodeString(normalized)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrKey, "decoding key: %v", err)
	}

	return raw, nil
}

// ValidatePublicKey checks that raw is a plausible uncompressed P-256 point.
// The platform validates strictly, so the client rejects up front instead of
// failing deep inside the subscribe call.
func ValidatePublicKey(raw []byte) error {
	if len(raw) != PublicKeyLength {
		return errors.Wrapf(errors.ErrKey, "public key must be %d bytes, got %d", PublicKeyLength, len(raw))
	}
	if raw[0] != 0x04 {
		return errors.Wrap(errors.ErrKey, "public key is not an uncompressed point")
	}
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return errors.Wrapf(errors.ErrKey, "public key not on curve: %v", err)
	}
	return nil
}

// KeyPair is a generated VAPID key pair in wire encoding.
type KeyPair struct {
	PublicKey  string // URL-safe base64, 65 raw bytes
	PrivateKey string // URL-safe base64, 32 raw bytes
}

// GenerateKeyPair creates a fresh P-256 key pair for a server that has none
// configured.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generating vapid key pair")
	}

	return &KeyPair{
		PublicKey:  EncodeKey(priv.PublicKey().Bytes()),
		PrivateKey: EncodeKey(priv.Bytes()),
	}, nil
}
