package wxcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// EncodingAESKeyLength is the length of the base64 key shown in the platform console.
	EncodingAESKeyLength = 43

	blockSize    = 32
	randomPrefix = 16
	lengthField  = 4
	headerSize   = randomPrefix + lengthField
)

// Cipher encrypts and decrypts platform envelopes with AES-256-CBC.
//
// Plaintext layout: random(16) | len(msg) uint32 BE | msg | tenantID, padded to 32 bytes.
type Cipher struct {
	key      []byte
	iv       []byte
	tenantID string
	random   io.Reader
}

// NewCipher builds a Cipher from the 43-character EncodingAESKey and the tenant id
// (CorpID for WeCom, AppID for official accounts) that every envelope must carry.
func NewCipher(encodingAESKey, tenantID string) (*Cipher, error) {
	if len(encodingAESKey) != EncodingAESKeyLength {
		return nil, fmt.Errorf("encoding aes key must be %d characters, got %d", EncodingAESKeyLength, len(encodingAESKey))
	}
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("decode encoding aes key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encoding aes key decodes to %d bytes, want 32", len(key))
	}
	return &Cipher{
		key:      key,
		iv:       key[:aes.BlockSize],
		tenantID: tenantID,
		random:   rand.Reader,
	}, nil
}

// Encrypt seals plain into a base64 envelope.
func (c *Cipher) Encrypt(plain string) (string, error) {
	msg := []byte(plain)
	buf := make([]byte, headerSize, headerSize+len(msg)+len(c.tenantID)+blockSize)
	if _, err := io.ReadFull(c.random, buf[:randomPrefix]); err != nil {
		return "", fmt.Errorf("read random prefix: %w", err)
	}
	binary.BigEndian.PutUint32(buf[randomPrefix:headerSize], uint32(len(msg)))
	buf = append(buf, msg...)
	buf = append(buf, c.tenantID...)
	buf = pad(buf)

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, buf)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a base64 envelope and returns the message it carries.
// All failures wrap ErrInvalidEnvelope.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: base64: %v", ErrInvalidEnvelope, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", ErrInvalidEnvelope, len(raw), aes.BlockSize)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(plain, raw)

	plain, err = unpad(plain)
	if err != nil {
		return "", err
	}
	if len(plain) < headerSize {
		return "", fmt.Errorf("%w: plaintext shorter than header", ErrInvalidEnvelope)
	}
	msgLen := int(binary.BigEndian.Uint32(plain[randomPrefix:headerSize]))
	if msgLen > len(plain)-headerSize {
		return "", fmt.Errorf("%w: message length %d exceeds remaining %d bytes", ErrInvalidEnvelope, msgLen, len(plain)-headerSize)
	}
	msg := plain[headerSize : headerSize+msgLen]
	tenant := plain[headerSize+msgLen:]
	if !bytes.Equal(tenant, []byte(c.tenantID)) {
		return "", fmt.Errorf("%w: %w: got %q", ErrInvalidEnvelope, ErrTenantMismatch, tenant)
	}
	return string(msg), nil
}

func pad(data []byte) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	n := int(data[len(data)-1])
	if n < 1 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding %d", ErrInvalidEnvelope, n)
	}
	return data[:len(data)-n], nil
}
