// Package crypto implements the authenticated-encryption contract that
// seals history segments and snapshots before they leave a replica, and
// opens them again after they arrive.
//
// The associated data binds a sealed blob to the client and chain position
// it was produced for, so a ciphertext copied from one context (the wrong
// client, the wrong version) fails to decrypt rather than silently
// decoding as garbage. Key material is never stored; it is derived from the
// replica's encryption_secret on every Seal/Open call via PBKDF2-HMAC-SHA256
// (the same derivation the teacher uses in pkg/encryption, just run for a
// context-specific salt instead of an installation-wide one).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"github.com/taskchampion/tcgo/internal/bufpool"
)

// ErrOutOfSync is returned when a sealed blob fails to decrypt: wrong
// secret, corrupted transport, or a version byte this build does not
// recognize. Per spec section 7, this is surfaced to the user as
// "reinitialize replica" guidance, never silently retried.
var ErrOutOfSync = errors.New("envelope: out of sync (decryption failed or unrecognized envelope version)")

// version identifies the algorithm used to seal a blob. History segments
// always use versionSegment; snapshots always use versionSnapshot. open
// rejects a blob whose first byte is not the version of the kind being
// opened, rather than trying every algorithm.
const (
	versionSegment  = byte(0x01) // XChaCha20-Poly1305, 24-byte nonce
	versionSnapshot = byte(0x02) // AES-256-GCM, 12-byte nonce
)

const (
	pbkdf2Iterations = 600000
	keyLen           = 32
)

// Fixed per-kind salts. The key is already unique per replica
// (encryption_secret); the salt only needs to separate the two envelope
// kinds from each other, not add per-message entropy (the nonce does that).
var (
	saltSegment  = []byte("tcgo-segment-v1")
	saltSnapshot = []byte("tcgo-snapshot-v1")
)

// SealSegment encrypts a history-segment payload for clientID using
// XChaCha20-Poly1305, binding the associated data to clientID and ctx (the
// chain position: the sync engine passes the parent version ID the segment
// is pushed on top of, which is known both when pushing and when fetching).
func SealSegment(secret []byte, clientID, ctx string, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(deriveKey(secret, saltSegment))
	if err != nil {
		return nil, err
	}
	return seal(aead, versionSegment, clientID, ctx, plaintext)
}

// OpenSegment decrypts a blob produced by SealSegment.
func OpenSegment(secret []byte, clientID, ctx string, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(deriveKey(secret, saltSegment))
	if err != nil {
		return nil, err
	}
	return open(aead, versionSegment, clientID, ctx, sealed)
}

// SealSnapshot encrypts a full task-map snapshot for clientID using
// AES-256-GCM.
func SealSnapshot(secret []byte, clientID, ctx string, plaintext []byte) ([]byte, error) {
	aead, err := newAESGCM(deriveKey(secret, saltSnapshot))
	if err != nil {
		return nil, err
	}
	return seal(aead, versionSnapshot, clientID, ctx, plaintext)
}

// OpenSnapshot decrypts a blob produced by SealSnapshot.
func OpenSnapshot(secret []byte, clientID, ctx string, sealed []byte) ([]byte, error) {
	aead, err := newAESGCM(deriveKey(secret, saltSnapshot))
	if err != nil {
		return nil, err
	}
	return open(aead, versionSnapshot, clientID, ctx, sealed)
}

func seal(aead cipher.AEAD, version byte, clientID, ctx string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("envelope: nonce: %w", err)
	}
	ad := associatedData(clientID, ctx)
	ciphertext := aead.Seal(nil, nonce, plaintext, ad)

	out := bufpool.Get()
	out = append(out, version)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	sealed := make([]byte, len(out))
	copy(sealed, out)
	bufpool.Put(out)
	return sealed, nil
}

func open(aead cipher.AEAD, version byte, clientID, ctx string, sealed []byte) ([]byte, error) {
	if len(sealed) < 1 || sealed[0] != version {
		return nil, ErrOutOfSync
	}
	sealed = sealed[1:]
	nonceSize := aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrOutOfSync
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, associatedData(clientID, ctx))
	if err != nil {
		return nil, ErrOutOfSync
	}
	return plaintext, nil
}

func associatedData(clientID, ctx string) []byte {
	return []byte(clientID + "\x00" + ctx)
}

func deriveKey(secret, salt []byte) []byte {
	return pbkdf2.Key(secret, salt, pbkdf2Iterations, keyLen, sha256.New)
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
