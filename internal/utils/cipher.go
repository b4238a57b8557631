package utils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	messageKeySize = 32
	developmentKey = "6f9a2b8c4d7e1f3a5b0c9d8e7f6a5b4c"
	keyInfo        = "movt/chat-message/aes-256-cbc"
)

// MessageCipher encrypts chat message bodies at rest as "ivHex:cipherHex".
type MessageCipher struct {
	key [messageKeySize]byte
}

// NewMessageCipher derives the AES-256 key from secret with HKDF-SHA256.
// Any secret length is accepted; an empty secret falls back to a fixed
// development value.
func NewMessageCipher(secret string) (*MessageCipher, error) {
	if secret == "" {
		log.Println("Warning: ENCRYPTION_KEY not set, using development message key")
		secret = developmentKey
	}
	c := &MessageCipher{}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, c.key[:]); err != nil {
		return nil, fmt.Errorf("derive message key: %w", err)
	}
	return c, nil
}

// Encrypt returns the stored form of text. Empty text stays empty.
func (c *MessageCipher) Encrypt(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	plain := pkcs7Pad([]byte(text), aes.BlockSize)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Values that are not exactly two colon-separated
// hex segments, or that fail to decrypt, are returned unchanged.
func (c *MessageCipher) Decrypt(stored string) string {
	if stored == "" {
		return stored
	}
	plain, err := c.decrypt(stored)
	if err != nil {
		return stored
	}
	return plain
}

func (c *MessageCipher) decrypt(stored string) (string, error) {
	parts := strings.Split(stored, ":")
	if len(parts) != 2 {
		return "", errors.New("unexpected ciphertext format")
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return "", errors.New("invalid iv")
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", errors.New("invalid ciphertext")
	}
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	out, err = pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
