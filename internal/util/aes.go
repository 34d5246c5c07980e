package util

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

const (
	AESKeySize   = 32
	AESBlockSize = aes.BlockSize
)

// EncryptAESCBC encrypts plainText with AES-256-CBC and PKCS#7 padding.
// The caller owns the IV and must never reuse it with the same key.
func EncryptAESCBC(plainText, iv, rawKey []byte) ([]byte, error) {
	block, err := newCBCBlock(iv, rawKey)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plainText, AESBlockSize)
	cipherText := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(cipherText, padded)
	return cipherText, nil
}

// DecryptAESCBC reverses EncryptAESCBC. Callers must authenticate the
// ciphertext before calling it; a padding failure here means corruption.
func DecryptAESCBC(cipherText, iv, rawKey []byte) ([]byte, error) {
	block, err := newCBCBlock(iv, rawKey)
	if err != nil {
		return nil, err
	}
	if len(cipherText) == 0 || len(cipherText)%AESBlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrPadding)
	}
	plainText := make([]byte, len(cipherText))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plainText, cipherText)
	return pkcs7Unpad(plainText, AESBlockSize)
}

func newCBCBlock(iv, rawKey []byte) (cipher.Block, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrKeySize, len(rawKey), AESKeySize)
	}
	if len(iv) != AESBlockSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrIVSize, len(iv), AESBlockSize)
	}
	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return block, nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, ErrPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrPadding
		}
	}
	return b[:len(b)-n], nil
}
