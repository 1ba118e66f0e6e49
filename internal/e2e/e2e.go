// Package e2e holds the client-side primitives both ends of a chat must
// agree on bit-for-bit: P-256 ECDH, HKDF-SHA-256 with the fixed "Salt"
// salt, and ChaCha20-Poly1305 with a 12-byte nonce prefix.
//
// The relay never calls into this package. The salt is a constant, so the
// derived key is only as secret as the ECDH shared secret itself.
package e2e

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/pliu/etoe/internal/errs"
)

// DecodeFailure is returned by Decrypt in place of plaintext whenever a
// message cannot be opened. Callers render it inline.
const DecodeFailure = "Error decoding"

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSize

	uncompressedPointSize = 65
	rawPointSize          = 64
)

var kdfSalt = []byte("Salt")

// GenerateKey creates a fresh long-lived P-256 key pair.
func GenerateKey() (*ecdh.PrivateKey, error) {
	return ecdh.P256().GenerateKey(rand.Reader)
}

// EncodePublicKey returns the base64 form of the 65-byte uncompressed point.
func EncodePublicKey(pub *ecdh.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub.Bytes())
}

// ParsePublicKey accepts either the 65-byte uncompressed point or the
// 64-byte X‖Y form some clients emit with the 0x04 prefix stripped.
func ParsePublicKey(encoded string) (*ecdh.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errs.Wrap(errs.CodeCryptoFailure, "public key is not base64", err)
	}
	if len(raw) == rawPointSize {
		raw = append([]byte{0x04}, raw...)
	}
	if len(raw) != uncompressedPointSize {
		return nil, errs.New(errs.CodeCryptoFailure, "public key has wrong length")
	}
	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, errs.Wrap(errs.CodeCryptoFailure, "public key is not on the curve", err)
	}
	return pub, nil
}

// EncodePrivateKey returns the base64 of the raw 32-byte scalar.
func EncodePrivateKey(priv *ecdh.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(priv.Bytes())
}

func ParsePrivateKey(encoded string) (*ecdh.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errs.Wrap(errs.CodeCryptoFailure, "private key is not base64", err)
	}
	priv, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, errs.Wrap(errs.CodeCryptoFailure, "invalid private key", err)
	}
	return priv, nil
}

// DeriveSharedKey runs ECDH and stretches the shared secret into a 256-bit
// symmetric key with HKDF-SHA-256, salt "Salt" and empty info.
func DeriveSharedKey(priv *ecdh.PrivateKey, peer *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(peer)
	if err != nil {
		return nil, errs.Wrap(errs.CodeCryptoFailure, "key agreement failed", err)
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, kdfSalt, nil), key); err != nil {
		return nil, errors.Wrap(err, "e2e.DeriveSharedKey.hkdf")
	}
	return key, nil
}

// Encrypt seals message under key and returns base64(nonce ‖ ciphertext ‖ tag).
func Encrypt(message string, key []byte) (string, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", errs.Wrap(errs.CodeCryptoFailure, "invalid symmetric key", err)
	}
	nonce := make([]byte, NonceSize, NonceSize+len(message)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "e2e.Encrypt.nonce")
	}
	sealed := aead.Seal(nonce, nonce, []byte(message), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It returns DecodeFailure for any bad input.
func Decrypt(encoded string, key []byte) string {
	plain, err := Open(encoded, key)
	if err != nil {
		return DecodeFailure
	}
	return plain
}

// Open is Decrypt with the failure reported as an error.
func Open(encoded string, key []byte) (string, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", errs.Wrap(errs.CodeCryptoFailure, "invalid symmetric key", err)
	}
	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errs.Wrap(errs.CodeCryptoFailure, "ciphertext is not base64", err)
	}
	if len(combined) < NonceSize+aead.Overhead() {
		return "", errs.ErrCryptoFailure
	}
	plain, err := aead.Open(nil, combined[:NonceSize], combined[NonceSize:], nil)
	if err != nil {
		return "", errs.Wrap(errs.CodeCryptoFailure, "authentication failed", err)
	}
	if !utf8.Valid(plain) {
		return "", errs.ErrCryptoFailure
	}
	return string(plain), nil
}
