// Package crypto provides the cryptographic primitives behind clipvault.
//
// Keys are derived from the master password with Argon2id. Clipboard content
// and the wrapped data key are sealed with AES-256-GCM, and a separate HKDF
// expansion of the derived key is stored as a fingerprint so a wrong password
// can be rejected without touching any ciphertext.
//
// # Example Usage
//
//	salt, _ := crypto.RandomBytes(crypto.SaltLength)
//	kek := crypto.DeriveKey([]byte("password"), salt)
//	fp, _ := crypto.Fingerprint(kek)
//
//	blob, err := crypto.Seal(kek, plaintext)
//	plaintext, err := crypto.Open(kek, blob)
//
//	crypto.SecureWipe(kek)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Argon2id parameters following OWASP recommendations.
const (
	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// SaltLength is the length of KDF salts in bytes.
	SaltLength = 16

	// FingerprintLength is the length of a key fingerprint in bytes.
	FingerprintLength = 32
)

const fingerprintInfo = "clipvault key fingerprint v1"

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the GCM tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrInvalidParams indicates KDF parameters outside the accepted range.
	ErrInvalidParams = errors.New("crypto: invalid key derivation parameters")
)

// KDFParams are the Argon2id cost parameters recorded in a vault header.
// A vault remembers the parameters it was created with so it can still be
// opened after the defaults change.
type KDFParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
}

// DefaultKDFParams returns the OWASP parameters used for new vaults.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: Argon2Time, Memory: Argon2Memory, Threads: Argon2Threads}
}

// Validate rejects parameters that would make derivation meaningless or
// exhaust memory when read from an untrusted header.
func (p KDFParams) Validate() error {
	if p.Time == 0 || p.Threads == 0 || p.Memory < 8*uint32(p.Threads) {
		return ErrInvalidParams
	}
	// 4 GiB upper bound
	if p.Memory > 4*1024*1024 {
		return ErrInvalidParams
	}
	return nil
}

// DeriveKey derives a 256-bit key from a password using Argon2id with the
// default parameters. The salt should be SaltLength bytes of random data.
func DeriveKey(password, salt []byte) []byte {
	return DeriveKeyWithParams(password, salt, DefaultKDFParams())
}

// DeriveKeyWithParams derives a 256-bit key using explicit Argon2id parameters.
func DeriveKeyWithParams(password, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, KeyLength)
}

// Fingerprint returns a one-way verifier for key. It is stored unencrypted
// and compared on unlock, so it must never reveal the key itself.
func Fingerprint(key []byte) ([]byte, error) {
	return DeriveSubkey(key, fingerprintInfo)
}

// VerifyFingerprint reports whether key matches a stored fingerprint.
// The comparison runs in constant time.
func VerifyFingerprint(key, fingerprint []byte) bool {
	fp, err := Fingerprint(key)
	if err != nil {
		return false
	}
	defer SecureWipe(fp)
	return hmac.Equal(fp, fingerprint)
}

// DeriveSubkey expands key into an independent 32-byte key for the given
// purpose using HKDF-SHA256.
func DeriveSubkey(key []byte, info string) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	out := make([]byte, KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("crypto: failed to derive subkey: %w", err)
	}
	return out, nil
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: failed to read random bytes: %w", err)
	}
	return b, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext using AES-256-GCM with a fresh random nonce.
// The authentication tag is appended to the returned ciphertext.
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt verifies and decrypts ciphertext produced by Encrypt.
// Tampering or a wrong key yields ErrDecryptionFailed.
func Decrypt(key, ciphertext, nonce []byte) (plaintext []byte, err error) {
	if len(nonce) != NonceLength {
		if len(key) != KeyLength {
			return nil, ErrInvalidKeyLength
		}
		return nil, ErrInvalidNonceLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err = gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Seal encrypts plaintext and returns nonce||ciphertext as a single blob,
// the layout used for every encrypted column in the vault file.
func Seal(key, plaintext []byte) ([]byte, error) {
	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

// Open reverses Seal.
func Open(key, blob []byte) ([]byte, error) {
	if len(blob) < NonceLength {
		return nil, ErrCiphertextTooShort
	}
	return Decrypt(key, blob[NonceLength:], blob[:NonceLength])
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// keeps the writes above from being eliminated as dead stores
	runtime.KeepAlive(b)
}
