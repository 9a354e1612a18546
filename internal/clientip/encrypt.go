package clientip

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned for keys that are not 64 hexadecimal characters.
var ErrInvalidKey = errors.New("client ip encryption key must be 64 hex characters")

// Encrypter encrypts addresses with AES-256-CBC. The output format is
// "<iv hex>:<ciphertext hex>".
type Encrypter struct {
	block cipher.Block
}

// NewEncrypter parses a 64-character hex key.
func NewEncrypter(hexKey string) (*Encrypter, error) {
	hexKey = strings.TrimSpace(hexKey)
	if len(hexKey) != 64 {
		return nil, ErrInvalidKey
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("client ip cipher: %w", err)
	}
	return &Encrypter{block: block}, nil
}

// Encrypt returns the encrypted form of ip. A nil Encrypter returns ip
// unchanged.
func (e *Encrypter) Encrypt(ip string) (string, error) {
	if e == nil || ip == "" {
		return ip, nil
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("client ip iv: %w", err)
	}
	plain := pad([]byte(ip), aes.BlockSize)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(e.block, iv).CryptBlocks(out, plain)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func (e *Encrypter) Decrypt(s string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(s, ":")
	if !ok {
		return "", errors.New("malformed ciphertext")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", errors.New("malformed iv")
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", errors.New("malformed ciphertext")
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(e.block, iv).CryptBlocks(out, ct)
	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// pad applies PKCS#7 padding.
func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("bad padding")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("bad padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("bad padding")
		}
	}
	return b[:len(b)-n], nil
}
