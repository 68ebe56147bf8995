// Package secrets seals credential maps for storage.
//
// Sealed format is versioned: 0x01 | nonce | ciphertext[GCM]. A Sealer with
// no key stores plain JSON, which is what dev deployments without
// ENCRYPTION_KEY get.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
)

const versionGCM = 0x01

var ErrSealed = errors.New("secrets: blob is sealed but no key is configured")

type Sealer struct {
	key []byte
}

func NewSealer(key string) *Sealer {
	if key == "" {
		return &Sealer{}
	}
	return &Sealer{key: []byte(key)}
}

func (s *Sealer) Enabled() bool { return s != nil && len(s.key) > 0 }

func (s *Sealer) gcm() (cipher.AEAD, error) {
	h := sha256.Sum256(s.key)
	block, err := aes.NewCipher(h[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal JSON-encodes v and encrypts it when a key is configured.
func (s *Sealer) Seal(v any) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if !s.Enabled() {
		return plain, nil
	}
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := gcm.Seal(nil, nonce, plain, nil)
	out := make([]byte, 1+len(nonce)+len(ct))
	out[0] = versionGCM
	copy(out[1:1+len(nonce)], nonce)
	copy(out[1+len(nonce):], ct)
	return out, nil
}

// Open reverses Seal into out. Plain JSON blobs are accepted regardless of key
// so rows written before a key was introduced stay readable.
func (s *Sealer) Open(blob []byte, out any) error {
	if len(blob) == 0 {
		return nil
	}
	if blob[0] != versionGCM {
		return json.Unmarshal(blob, out)
	}
	if !s.Enabled() {
		return ErrSealed
	}
	gcm, err := s.gcm()
	if err != nil {
		return err
	}
	if len(blob) < 1+gcm.NonceSize() {
		return fmt.Errorf("secrets: short nonce")
	}
	nonce := blob[1 : 1+gcm.NonceSize()]
	plain, err := gcm.Open(nil, nonce, blob[1+gcm.NonceSize():], nil)
	if err != nil {
		return fmt.Errorf("secrets: open: %w", err)
	}
	return json.Unmarshal(plain, out)
}
