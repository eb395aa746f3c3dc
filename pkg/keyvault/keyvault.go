// Package keyvault provides symmetric envelope encryption for raw key
// material at rest.
//
// Envelopes are AES-256-CBC under a single process-wide key, with a fresh
// random IV per call, serialized as the JSON document
// {"iv": <hex>, "data": <hex>}. The format is fixed: envelopes already
// persisted by earlier deployments must keep decrypting to the exact
// original bytes.
package keyvault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ivLength is the AES-CBC IV size in bytes.
const ivLength = 16

// ErrCorruptEnvelope indicates an envelope that cannot be parsed, or whose
// key/IV pair does not decrypt to validly padded plaintext.
var ErrCorruptEnvelope = errors.New("keyvault: corrupt envelope")

// envelope is the wire form of an encrypted key.
type envelope struct {
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// Vault encrypts and decrypts key material under a fixed 32-byte key.
// A Vault is stateless and safe for concurrent use.
type Vault struct {
	key []byte
}

// New creates a Vault. The key must be exactly 32 bytes for AES-256.
func New(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("keyvault: key must be 32 bytes, got %d", len(key))
	}
	v := &Vault{key: make([]byte, 32)}
	copy(v.key, key)
	return v, nil
}

// NewFromHex creates a Vault from a 64-character hex key string.
func NewFromHex(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("keyvault: decode hex key: %w", err)
	}
	return New(key)
}

// Encrypt seals raw key bytes into an envelope string. Each call uses a
// fresh random IV, so encrypting the same input twice yields different
// envelopes.
func (v *Vault) Encrypt(raw []byte) (string, error) {
	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("keyvault: generate iv: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("keyvault: aes cipher: %w", err)
	}

	padded := pkcs7Pad(raw, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	out, err := json.Marshal(envelope{
		IV:   hex.EncodeToString(iv),
		Data: hex.EncodeToString(ct),
	})
	if err != nil {
		return "", fmt.Errorf("keyvault: marshal envelope: %w", err)
	}
	return string(out), nil
}

// Decrypt opens an envelope string and returns the original key bytes.
// Returns ErrCorruptEnvelope if the envelope is malformed or does not
// decrypt to validly padded plaintext under the vault key.
func (v *Vault) Decrypt(sealed string) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal([]byte(sealed), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEnvelope, err)
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != ivLength {
		return nil, fmt.Errorf("%w: bad iv", ErrCorruptEnvelope)
	}
	ct, err := hex.DecodeString(env.Data)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: bad ciphertext", ErrCorruptEnvelope)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("keyvault: aes cipher: %w", err)
	}

	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)

	unpadded, err := pkcs7Unpad(pt, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEnvelope, err)
	}
	return unpadded, nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, errors.New("invalid padding byte")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.New("inconsistent padding")
		}
	}
	return b[:len(b)-n], nil
}
