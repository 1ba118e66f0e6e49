package client

import (
	"crypto/ecdh"

	"github.com/pliu/etoe/internal/e2e"
	"github.com/pliu/etoe/internal/models"
)

// Session binds a user's private key to the crypto primitives.
type Session struct {
	Private *ecdh.PrivateKey
}

func NewSession(priv *ecdh.PrivateKey) *Session {
	return &Session{Private: priv}
}

// PublicKey is the encoded key to register with the relay.
func (s *Session) PublicKey() string {
	return e2e.EncodePublicKey(s.Private.PublicKey())
}

func (s *Session) sharedKey(peerKey string) ([]byte, error) {
	peer, err := e2e.ParsePublicKey(peerKey)
	if err != nil {
		return nil, err
	}
	return e2e.DeriveSharedKey(s.Private, peer)
}

// Seal encrypts plaintext for the holder of peerKey.
func (s *Session) Seal(peerKey, plaintext string) (string, error) {
	key, err := s.sharedKey(peerKey)
	if err != nil {
		return "", err
	}
	return e2e.Encrypt(plaintext, key)
}

// Open decrypts a message using the key recorded on it. Any failure yields
// e2e.DecodeFailure so one bad message does not break a whole chat view.
func (s *Session) Open(m models.MessageView) string {
	key, err := s.sharedKey(m.Key)
	if err != nil {
		return e2e.DecodeFailure
	}
	return e2e.Decrypt(m.Content, key)
}
