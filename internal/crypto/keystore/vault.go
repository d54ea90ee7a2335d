package keystore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Sealed blobs are laid out as magic | salt | nonce | ciphertext.
var vaultMagic = []byte("AFV1")

const (
	vaultSaltSize   = 16
	vaultIterations = 4096
)

var ErrNotSealed = errors.New("data is not a sealed vault blob")

func vaultDeriveKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, vaultIterations, 32, sha256.New)
}

func vaultAEAD(password, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(vaultDeriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts data with a key derived from password.
func Seal(data, password []byte) ([]byte, error) {
	salt := make([]byte, vaultSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	gcm, err := vaultAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(vaultMagic)+len(salt)+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, vaultMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	// The magic is bound as additional authenticated data.
	return gcm.Seal(out, nonce, data, vaultMagic), nil
}

// IsSealed reports whether data carries the vault header.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, vaultMagic)
}

// Open reverses Seal.
func Open(data, password []byte) ([]byte, error) {
	if !IsSealed(data) {
		return nil, ErrNotSealed
	}
	data = data[len(vaultMagic):]
	if len(data) < vaultSaltSize+12 {
		return nil, errors.New("sealed data too short")
	}
	salt := data[:vaultSaltSize]
	gcm, err := vaultAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	rest := data[vaultSaltSize:]
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, vaultMagic)
}
