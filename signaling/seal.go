package signaling

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"
)

// PayloadCipher provides confidentiality for signaling payloads. The call
// core never performs key agreement; keys come from an external crypto
// module and this interface only seals and opens opaque blobs.
type PayloadCipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// ErrOpenFailed indicates an authenticated payload failed to decrypt.
var ErrOpenFailed = errors.New("payload decryption failed")

const sealNonceSize = 24

// SecretBoxCipher is a PayloadCipher over NaCl secretbox with a random
// nonce prepended to each sealed payload.
type SecretBoxCipher struct {
	key [32]byte
}

// NewSecretBoxCipher creates a cipher from a 32-byte symmetric key.
func NewSecretBoxCipher(key [32]byte) *SecretBoxCipher {
	return &SecretBoxCipher{key: key}
}

// Seal encrypts and authenticates plaintext.
func (c *SecretBoxCipher) Seal(plaintext []byte) ([]byte, error) {
	var nonce [sealNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	out := make([]byte, 0, sealNonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &c.key), nil
}

// Open authenticates and decrypts a sealed payload.
func (c *SecretBoxCipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < sealNonceSize+secretbox.Overhead {
		return nil, ErrOpenFailed
	}
	var nonce [sealNonceSize]byte
	copy(nonce[:], sealed[:sealNonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[sealNonceSize:], &nonce, &c.key)
	if !ok {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

// SealedChannel decorates a Channel so every payload is sealed before it
// reaches the store and opened on the way back. The relay sees only
// ciphertext; paths remain visible for routing.
type SealedChannel struct {
	inner  Channel
	cipher PayloadCipher
}

// NewSealedChannel wraps inner with cipher.
func NewSealedChannel(inner Channel, cipher PayloadCipher) *SealedChannel {
	return &SealedChannel{inner: inner, cipher: cipher}
}

// Write seals payload and stores it at path.
func (s *SealedChannel) Write(ctx context.Context, path string, payload []byte) error {
	sealed, err := s.cipher.Seal(payload)
	if err != nil {
		return NewTransportError("write", path, err)
	}
	return s.inner.Write(ctx, path, sealed)
}

// Read fetches and opens the payload at path.
func (s *SealedChannel) Read(ctx context.Context, path string) ([]byte, error) {
	sealed, err := s.inner.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	payload, err := s.cipher.Open(sealed)
	if err != nil {
		return nil, NewTransportError("read", path, err)
	}
	return payload, nil
}

// SubscribeChildAdded opens each child payload before handing it on.
// Payloads that fail to open are dropped; the subscription stays live.
func (s *SealedChannel) SubscribeChildAdded(path string, handler ChildHandler) (Subscription, error) {
	return s.inner.SubscribeChildAdded(path, s.openingChildHandler(path, handler))
}

// SubscribeChildChanged opens each child payload before handing it on.
func (s *SealedChannel) SubscribeChildChanged(path string, handler ChildHandler) (Subscription, error) {
	return s.inner.SubscribeChildChanged(path, s.openingChildHandler(path, handler))
}

// SubscribeValue opens each value payload before handing it on.
func (s *SealedChannel) SubscribeValue(path string, handler ValueHandler) (Subscription, error) {
	return s.inner.SubscribeValue(path, func(sealed []byte) {
		payload, err := s.cipher.Open(sealed)
		if err != nil {
			logDroppedPayload(path, err)
			return
		}
		handler(payload)
	})
}

func (s *SealedChannel) openingChildHandler(path string, handler ChildHandler) ChildHandler {
	return func(key string, sealed []byte) {
		payload, err := s.cipher.Open(sealed)
		if err != nil {
			logDroppedPayload(path+"/"+key, err)
			return
		}
		handler(key, payload)
	}
}

func logDroppedPayload(path string, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "SealedChannel",
		"path":     path,
		"error":    err.Error(),
	}).Warn("dropping payload that failed to decrypt")
}
