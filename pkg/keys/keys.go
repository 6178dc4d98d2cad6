// Package keys seals and opens the gateway dispatch key so it never has to
// sit in configuration as plaintext.
//
// A sealed key is base64(nonce || ciphertext || tag) under AES-256-GCM. The
// AES key is derived from the operator's master key with HKDF-SHA256, bound
// to a purpose label, so the same master key can protect other secrets
// without key reuse.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeySize is the length of an operator master key in bytes.
	MasterKeySize = 32

	privateKeySize = 32
	dispatchInfo   = "xchain-vault/dispatch-key/v1"
)

// ErrMasterKeySize is returned for master keys that are not MasterKeySize bytes.
var ErrMasterKeySize = fmt.Errorf("master key must be %d bytes", MasterKeySize)

// GenerateMasterKey returns a random master key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	return key, nil
}

// MasterKeyFromBase64 decodes a base64-encoded master key.
func MasterKeyFromBase64(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}
	if len(key) != MasterKeySize {
		return nil, ErrMasterKeySize
	}
	return key, nil
}

// MasterKeyToBase64 encodes a master key for storage.
func MasterKeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// Seal encrypts a 32-byte secp256k1 private key under masterKey.
func Seal(privateKey, masterKey []byte) (string, error) {
	if len(privateKey) != privateKeySize {
		return "", fmt.Errorf("private key must be %d bytes", privateKeySize)
	}
	gcm, err := newGCM(masterKey)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, privateKey, nil)), nil
}

// Open decrypts a key produced by Seal.
func Open(sealed string, masterKey []byte) ([]byte, error) {
	gcm, err := newGCM(masterKey)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sealed))
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed key: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("sealed key too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	if len(plaintext) != privateKeySize {
		return nil, fmt.Errorf("decrypted key has wrong size: got %d, want %d", len(plaintext), privateKeySize)
	}
	return plaintext, nil
}

// LoadDispatchKey parses the configured dispatch key. With an empty
// masterKeyB64 the key is read as plain hex; otherwise it must be sealed.
func LoadDispatchKey(key, masterKeyB64 string) (*ecdsa.PrivateKey, error) {
	if masterKeyB64 == "" {
		return crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(key), "0x"))
	}

	masterKey, err := MasterKeyFromBase64(masterKeyB64)
	if err != nil {
		return nil, err
	}
	raw, err := Open(key, masterKey)
	if err != nil {
		return nil, err
	}
	return crypto.ToECDSA(raw)
}

func newGCM(masterKey []byte) (cipher.AEAD, error) {
	if len(masterKey) != MasterKeySize {
		return nil, ErrMasterKeySize
	}

	aesKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(dispatchInfo)), aesKey); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
