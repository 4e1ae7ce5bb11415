// Package secrets derives the session encryption key from a wallet
// signature and protects the privacy wallet seed phrase with it.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/crypto/sha3"
)

// ErrCorruptedSecret is returned when a cached encrypted mnemonic cannot be
// decrypted or does not decode to a valid seed phrase.
var ErrCorruptedSecret = errors.New("cached secret is corrupted")

// scrypt cost parameters used to stretch the encryption key per ciphertext.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	saltSize     = 32
	nonceSize    = 12
	aesKeyLength = 32
)

// EncryptionKey is keccak256(signature || address). It is never persisted.
type EncryptionKey [32]byte

// DeriveEncryptionKey computes the key for a signature made by address.
// Both inputs are lowercased so the result does not depend on hex casing.
func DeriveEncryptionKey(address, signature string) EncryptionKey {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(strings.ToLower(signature)))
	h.Write([]byte(strings.ToLower(address)))

	var key EncryptionKey
	copy(key[:], h.Sum(nil))
	return key
}

// Hex returns the key as lowercase hex without prefix, the form the privacy
// engine expects.
func (k EncryptionKey) Hex() string {
	return hex.EncodeToString(k[:])
}

// String never reveals key material.
func (k EncryptionKey) String() string {
	return "EncryptionKey(redacted)"
}

// NewMnemonic generates a fresh 24 word seed phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return mnemonic, nil
}

func deriveAESKey(key EncryptionKey, salt []byte) ([]byte, error) {
	return scrypt.Key(key[:], salt, scryptN, scryptR, scryptP, aesKeyLength)
}

// EncryptMnemonic seals mnemonic with AES-256-GCM under key. The result has
// the form base64(salt):base64(nonce):base64(ciphertext).
func EncryptMnemonic(key EncryptionKey, mnemonic string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	aesKey, err := deriveAESKey(key, salt)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	ciphertext := aesgcm.Seal(nil, nonce, []byte(mnemonic), nil)

	return base64.StdEncoding.EncodeToString(salt) + ":" +
		base64.StdEncoding.EncodeToString(nonce) + ":" +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptMnemonic reverses EncryptMnemonic and validates the seed phrase.
// Every failure is reported as ErrCorruptedSecret.
func DecryptMnemonic(key EncryptionKey, encrypted string) (string, error) {
	parts := strings.Split(encrypted, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: invalid ciphertext format",
			ErrCorruptedSecret)
	}

	var decoded [3][]byte
	for i, part := range parts {
		b, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCorruptedSecret, err)
		}
		decoded[i] = b
	}
	salt, nonce, ciphertext := decoded[0], decoded[1], decoded[2]
	if len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: bad nonce size %d",
			ErrCorruptedSecret, len(nonce))
	}

	aesKey, err := deriveAESKey(key, salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptedSecret, err)
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptedSecret, err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptedSecret, err)
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptedSecret, err)
	}

	mnemonic := string(plaintext)
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", fmt.Errorf("%w: invalid seed phrase", ErrCorruptedSecret)
	}

	return mnemonic, nil
}
