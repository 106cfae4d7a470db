package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ErrDecryptFailed means the ciphertext is malformed or failed
// authentication. Callers must treat the credential as unusable, not retry.
var ErrDecryptFailed = errors.New("token decryption failed")

const gcmTagSize = 16

// TokenCipher encrypts stored platform tokens with AES-256-GCM. Ciphertexts
// are hex-encoded as nonce:tag:ciphertext. A legacy two-part iv:ciphertext
// AES-256-CBC format issued by earlier releases is still accepted on read.
type TokenCipher struct {
	key []byte
}

// New builds a cipher from a 256-bit key given as 64 hex chars or 32 raw
// chars. Any other length is a startup error.
func New(key string) (*TokenCipher, error) {
	switch len(key) {
	case 64:
		raw, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("encryption key is 64 chars but not valid hex: %w", err)
		}
		return &TokenCipher{key: raw}, nil
	case 32:
		return &TokenCipher{key: []byte(key)}, nil
	default:
		return nil, fmt.Errorf("encryption key must be 64 hex chars or 32 raw chars, got %d", len(key))
	}
}

func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aesGCM.Seal(nil, nonce, []byte(plaintext), nil)

	// Seal appends the tag to the ciphertext; store it as its own segment.
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

func (c *TokenCipher) Decrypt(encrypted string) (string, error) {
	parts := strings.Split(encrypted, ":")
	switch len(parts) {
	case 3:
		return c.decryptGCM(parts[0], parts[1], parts[2])
	case 2:
		slog.Warn("decrypting legacy CBC token, re-encrypt on next refresh")
		return c.decryptLegacyCBC(parts[0], parts[1])
	default:
		return "", fmt.Errorf("%w: expected 2 or 3 segments, got %d", ErrDecryptFailed, len(parts))
	}
}

func (c *TokenCipher) decryptGCM(nonceHex, tagHex, ciphertextHex string) (string, error) {
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad nonce encoding", ErrDecryptFailed)
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad tag encoding", ErrDecryptFailed)
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrDecryptFailed)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != aesGCM.NonceSize() || len(tag) != gcmTagSize {
		return "", fmt.Errorf("%w: bad segment length", ErrDecryptFailed)
	}

	plaintext, err := aesGCM.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptFailed)
	}
	return string(plaintext), nil
}

func (c *TokenCipher) decryptLegacyCBC(ivHex, ciphertextHex string) (string, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: bad legacy iv", ErrDecryptFailed)
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: bad legacy ciphertext", ErrDecryptFailed)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: bad legacy padding", ErrDecryptFailed)
	}
	return string(unpadded), nil
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, errors.New("invalid padding length")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.New("invalid padding byte")
		}
	}
	return data[:len(data)-pad], nil
}
