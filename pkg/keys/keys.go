// Package keys generates and heals the cryptographic material behind
// Reality and AmneziaWG endpoints: X25519 keypairs, short IDs and the
// deterministic per-subscriber client keys.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// deterministicKeySalt is appended to the subscriber secret before hashing
// so the derived scalar is not directly the hash of a value that also
// travels as a password elsewhere. Changing it invalidates every issued
// AmneziaWG client key.
const deterministicKeySalt = "awg-client-key"

// GenerateRealityKeypair returns a fresh X25519 keypair in unpadded
// base64url, plus an 8-byte hex short ID.
func GenerateRealityKeypair() (priv, pub, shortID string, err error) {
	var scalar [32]byte
	if _, err = rand.Read(scalar[:]); err != nil {
		return "", "", "", fmt.Errorf("read random: %w", err)
	}
	clamp(&scalar)
	pubBytes, err := curve25519.X25519(scalar[:], curve25519.Basepoint)
	if err != nil {
		return "", "", "", fmt.Errorf("derive public key: %w", err)
	}
	sid := make([]byte, 8)
	if _, err = rand.Read(sid); err != nil {
		return "", "", "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(scalar[:]),
		base64.RawURLEncoding.EncodeToString(pubBytes),
		hex.EncodeToString(sid), nil
}

// GenerateWireguardKeypair returns a fresh keypair in the standard
// WireGuard base64 encoding.
func GenerateWireguardKeypair() (priv, pub string, err error) {
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate wireguard key: %w", err)
	}
	return key.String(), key.PublicKey().String(), nil
}

// DeriveDeterministicKey derives a stable AmneziaWG client keypair from a
// subscriber secret: SHA-256(seed || salt) clamped into a valid X25519
// scalar. The same seed always yields the same keypair, so client keys
// never need to be persisted.
func DeriveDeterministicKey(seed string) (priv, pub string) {
	sum := sha256.Sum256([]byte(seed + deterministicKeySalt))
	clamp(&sum)
	key := wgtypes.Key(sum)
	return key.String(), key.PublicKey().String()
}

// clamp turns 32 arbitrary bytes into a valid X25519 scalar.
func clamp(k *[32]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

// ValidPrivateKey reports whether s decodes as unpadded base64 of exactly
// 32 bytes. Anything else is treated as absent and triggers a heal.
func ValidPrivateKey(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return len(b) == 32
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return len(b) == 32
	}
	return false
}

// NormalizeKey converts a stored key to the unpadded base64url charset the
// engine expects: trims whitespace, maps the standard alphabet to the URL
// alphabet and strips padding.
func NormalizeKey(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "+", "-")
	s = strings.ReplaceAll(s, "/", "_")
	return strings.TrimRight(s, "=")
}
