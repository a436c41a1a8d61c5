// Package security seals small secrets (the stored Azure credentials) with
// AES-GCM.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrCiphertextTooShort 密文长度不足 nonce
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// AESCodec 实现基于 AES-GCM 的加解密，输出 base64(nonce|ciphertext)
type AESCodec struct {
	aead cipher.AEAD
}

// NewAESCodec 创建新的 AES 编解码器
// keyStr 必须是 16, 24, 或 32 字节长的字符串（对应 AES-128, AES-192, AES-256）
func NewAESCodec(keyStr string) (*AESCodec, error) {
	key := []byte(keyStr)
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("invalid key length: %d. Must be 16, 24, or 32 bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESCodec{aead: aead}, nil
}

func (c *AESCodec) Encode(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *AESCodec) Decode(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	nonce, sealed := data[:nonceSize], data[nonceSize:]
	return c.aead.Open(nil, nonce, sealed, nil)
}
