// Package secure encrypts the OpenAI API key at rest. The key material lives
// in the local store and is created on first use.
package secure

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rasha-hantash/locscout/store"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeyStore is the subset of the local store the box needs.
type KeyStore interface {
	Get(ctx context.Context, key string) ([]byte, time.Time, error)
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
}

// Box seals and opens credential blobs. A blob is
// base64(nonce || ciphertext).
type Box struct {
	keys KeyStore
}

func NewBox(keys KeyStore) *Box {
	return &Box{keys: keys}
}

// Encrypt seals plaintext with the stored key.
func (b *Box) Encrypt(ctx context.Context, plaintext string) (string, error) {
	aead, err := b.aead(ctx)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.
func (b *Box) Decrypt(ctx context.Context, blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("decoding credential: %w", err)
	}
	aead, err := b.aead(ctx)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("credential blob too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting credential: %w", err)
	}
	return string(plain), nil
}

func (b *Box) aead(ctx context.Context) (cipher.AEAD, error) {
	key, _, err := b.keys.Get(ctx, store.KeySecretKey)
	if errors.Is(err, store.ErrNotFound) {
		fresh := make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(fresh); err != nil {
			return nil, fmt.Errorf("generating key: %w", err)
		}
		// Another caller may have created the key first; theirs wins.
		if _, err := b.keys.PutIfAbsent(ctx, store.KeySecretKey, fresh); err != nil {
			return nil, fmt.Errorf("saving key: %w", err)
		}
		key, _, err = b.keys.Get(ctx, store.KeySecretKey)
	}
	if err != nil {
		return nil, fmt.Errorf("loading key: %w", err)
	}
	return chacha20poly1305.New(key)
}
