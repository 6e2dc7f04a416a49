// Package spool implements the agent's durable, encrypted local event queue.
//
// Pending events are buffered in memory and periodically sealed into
// on-disk segment files encrypted with AES-256-GCM, keyed by a per-segment
// PBKDF2-HMAC-SHA256 derivation over a deployment secret and a random salt.
package spool

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	domainerrors "github.com/R3E-Network/service_layer/infrastructure/errors"
)

const (
	segmentMagic      = "LGQ1"
	saltSize          = 16
	nonceSize         = 12
	pbkdf2Iterations  = 100_000
	pbkdf2KeyLen      = 32 // AES-256
)

// EncryptSegment seals payload into the on-disk segment format:
//
//	[ 4-byte magic "LGQ1" ]
//	[ 16-byte random salt ]
//	[ 12-byte random nonce ]
//	[ ciphertext of payload, AES-256-GCM ]
//	[ 16-byte GCM auth tag ]
//
// secret is the deployment-wide spool encryption secret; the AES key is
// derived fresh for every segment from secret and a random salt.
func EncryptSegment(secret, payload []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, domainerrors.EncryptionFailed(fmt.Errorf("read salt: %w", err))
	}

	key := deriveKey(secret, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, domainerrors.EncryptionFailed(fmt.Errorf("new cipher: %w", err))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, domainerrors.EncryptionFailed(fmt.Errorf("new gcm: %w", err))
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, domainerrors.EncryptionFailed(fmt.Errorf("read nonce: %w", err))
	}

	// GCM appends its 16-byte tag to the returned ciphertext.
	sealed := aead.Seal(nil, nonce, payload, nil)

	out := make([]byte, 0, len(segmentMagic)+saltSize+nonceSize+len(sealed))
	out = append(out, []byte(segmentMagic)...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// DecryptSegment reverses EncryptSegment. A tampered or truncated segment
// returns a ServiceError with code ErrCodeSegmentCorrupt; callers quarantine
// the file without retrying the same bytes.
func DecryptSegment(secret, data []byte) ([]byte, error) {
	minLen := len(segmentMagic) + saltSize + nonceSize
	if len(data) < minLen {
		return nil, domainerrors.SegmentCorrupt("", fmt.Errorf("segment too short: %d bytes", len(data)))
	}
	if string(data[:len(segmentMagic)]) != segmentMagic {
		return nil, domainerrors.SegmentCorrupt("", fmt.Errorf("bad magic %q", data[:len(segmentMagic)]))
	}

	offset := len(segmentMagic)
	salt := data[offset : offset+saltSize]
	offset += saltSize
	nonce := data[offset : offset+nonceSize]
	offset += nonceSize
	ciphertext := data[offset:]

	key := deriveKey(secret, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, domainerrors.SegmentCorrupt("", fmt.Errorf("new cipher: %w", err))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, domainerrors.SegmentCorrupt("", fmt.Errorf("new gcm: %w", err))
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domainerrors.SegmentCorrupt("", fmt.Errorf("gcm tag mismatch: %w", err))
	}
	return plaintext, nil
}

func deriveKey(secret, salt []byte) []byte {
	return pbkdf2.Key(secret, salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
}

// segmentHeaderLen is the fixed-size prefix before ciphertext begins.
func segmentHeaderLen() int {
	return len(segmentMagic) + saltSize + nonceSize
}
