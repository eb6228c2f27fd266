// Package vault encrypts transport session credentials and persists
// them to durable blob storage. Nothing leaves this package in
// plaintext.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"path"

	"github.com/vendaflow/zapengine/internal/core"
)

const (
	// NonceSize is the GCM standard nonce size.
	NonceSize = 12
	// TagSize is the GCM authentication tag size.
	TagSize = 16
	// KeySize selects AES-256.
	KeySize = 32
)

// BlobStore is the durable backend for credential envelopes. Writes
// must be atomic: a crashed writer leaves either the old blob or the
// new one, never a partial envelope.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Vault composes the AEAD cipher with a blob store.
type Vault struct {
	aead  cipher.AEAD
	blobs BlobStore
}

// New builds a vault from a hex-encoded 256-bit key. A missing or
// malformed key is a configuration error; callers must fail startup on
// it rather than defer to send time.
func New(hexKey string, blobs BlobStore) (*Vault, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("vault key missing: %w", core.ErrConfig)
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != KeySize {
		return nil, fmt.Errorf("vault key must be %d hex-encoded bytes: %w", KeySize, core.ErrConfig)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault gcm: %w", err)
	}
	return &Vault{aead: aead, blobs: blobs}, nil
}

// BlobPath is the deterministic envelope address for a session, so a
// re-upload overwrites instead of duplicating.
func BlobPath(sessionID string) string {
	return path.Join("sessions", sessionID, "auth_state.enc")
}

// Encrypt seals plaintext into the envelope layout
// nonce(12) || tag(16) || ciphertext, with a fresh random nonce.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault nonce: %w", err)
	}
	// GCM emits ciphertext||tag; the envelope carries the tag up front.
	sealed := v.aead.Seal(nil, nonce, plaintext, nil)
	ct := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	env := make([]byte, 0, NonceSize+TagSize+len(ct))
	env = append(env, nonce...)
	env = append(env, tag...)
	env = append(env, ct...)
	return env, nil
}

// Decrypt opens an envelope. Fails closed with core.ErrIntegrity on any
// authentication failure; no partial or unauthenticated bytes escape.
func (v *Vault) Decrypt(envelope []byte) ([]byte, error) {
	if len(envelope) < NonceSize+TagSize {
		return nil, fmt.Errorf("envelope too short: %w", core.ErrIntegrity)
	}
	nonce := envelope[:NonceSize]
	tag := envelope[NonceSize : NonceSize+TagSize]
	ct := envelope[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("envelope authentication failed: %w", core.ErrIntegrity)
	}
	return plaintext, nil
}

// SaveState encrypts and persists a session's auth state. Duplicate
// writes of identical state are harmless; the path is deterministic.
func (v *Vault) SaveState(ctx context.Context, sessionID string, state []byte) (string, error) {
	env, err := v.Encrypt(state)
	if err != nil {
		return "", err
	}
	p := BlobPath(sessionID)
	if err := v.blobs.Put(ctx, p, env); err != nil {
		return "", fmt.Errorf("persist credential blob: %w", err)
	}
	return p, nil
}

// LoadState fetches and decrypts a session's auth state. An integrity
// failure aborts the resume path; it must never be retried.
func (v *Vault) LoadState(ctx context.Context, sessionID string) ([]byte, error) {
	env, err := v.blobs.Get(ctx, BlobPath(sessionID))
	if err != nil {
		return nil, err
	}
	return v.Decrypt(env)
}

func (v *Vault) DeleteState(ctx context.Context, sessionID string) error {
	return v.blobs.Delete(ctx, BlobPath(sessionID))
}
