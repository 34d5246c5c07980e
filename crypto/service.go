// Package crypto is the primitive layer of the vault: hashing, MACs, key
// derivation, AES-256-CBC with HMAC-SHA256, RSA-OAEP and the key hierarchy
// helpers built on them. Every function is stateless; Service only carries the
// Backend it delegates to.
package crypto

import (
	"crypto/subtle"
	"errors"
	"sync/atomic"

	"github.com/jmcleod/ironkeep/internal/util"
)

// IVSize is the AES block size.
const IVSize = 16

// Service exposes the primitive contract on top of a Backend.
type Service struct {
	backend Backend
}

// NewService returns a Service delegating to b. A nil b selects SoftwareBackend.
func NewService(b Backend) *Service {
	if b == nil {
		b = SoftwareBackend{}
	}
	return &Service{backend: b}
}

var defaultService = NewService(SoftwareBackend{})

// Default returns the process-wide Service backed by SoftwareBackend.
func Default() *Service {
	return defaultService
}

// Backend returns the backend in use.
func (s *Service) Backend() Backend {
	return s.backend
}

// Hash returns the digest of data.
func (s *Service) Hash(data []byte, algo Algorithm) ([]byte, error) {
	d, err := s.backend.Hash(algo, data)
	return d, classify("hash", err, UnsupportedAlgorithm)
}

// HMAC returns the keyed MAC of data.
func (s *Service) HMAC(data, key []byte, algo Algorithm) ([]byte, error) {
	m, err := s.backend.HMAC(algo, key, data)
	return m, classify("hmac", err, UnsupportedAlgorithm)
}

// Compare reports whether a and b are equal without leaking where they
// differ: both sides are MACed under a fresh random key and the MACs are
// compared in constant time, so neither timing nor length reveals content.
func (s *Service) Compare(a, b []byte) (bool, error) {
	k, err := s.RandomBytes(32)
	if err != nil {
		return false, err
	}
	defer util.WipeBytes(k)
	ma, err := s.HMAC(a, k, SHA256)
	if err != nil {
		return false, err
	}
	mb, err := s.HMAC(b, k, SHA256)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(ma, mb) == 1, nil
}

// PBKDF2 derives 32 bytes with SHA-256 or 64 bytes with SHA-512.
func (s *Service) PBKDF2(password, salt []byte, algo Algorithm, iterations int) ([]byte, error) {
	if algo != SHA256 && algo != SHA512 {
		return nil, newError(UnsupportedAlgorithm, "pbkdf2", errors.New(string(algo)))
	}
	k, err := s.backend.PBKDF2(password, salt, algo, iterations)
	return k, classify("pbkdf2", err, InvalidKeyLength)
}

// HKDFExpand implements the RFC 5869 expand step. It fails when outLen
// exceeds 255 hash lengths or prk is shorter than one hash length.
func (s *Service) HKDFExpand(prk, info []byte, outLen int, algo Algorithm) ([]byte, error) {
	k, err := s.backend.HKDFExpand(prk, info, outLen, algo)
	return k, classify("hkdf-expand", err, InvalidKeyLength)
}

// RandomBytes reads n bytes from the CSPRNG.
func (s *Service) RandomBytes(n int) ([]byte, error) {
	b, err := s.backend.RandomBytes(n)
	return b, classify("random", err, RandomSourceUnavailable)
}

// IV is a single-use AES initialisation vector. Encryption IVs only come
// from Service.NewIV and are consumed by the first AESEncrypt; IVs read off
// the wire through ParseIV can only be used to decrypt.
type IV struct {
	b           [IVSize]byte
	used        atomic.Bool
	decryptOnly bool
}

// NewIV draws a fresh IV for one encryption.
func (s *Service) NewIV() (*IV, error) {
	b, err := s.RandomBytes(IVSize)
	if err != nil {
		return nil, err
	}
	iv := &IV{}
	copy(iv.b[:], b)
	return iv, nil
}

// ParseIV wraps a received IV for decryption.
func ParseIV(b []byte) (*IV, error) {
	if len(b) != IVSize {
		return nil, newError(InvalidKeyLength, "parse-iv", util.ErrIVSize)
	}
	iv := &IV{decryptOnly: true}
	copy(iv.b[:], b)
	return iv, nil
}

// Bytes returns a copy of the IV.
func (iv *IV) Bytes() []byte {
	return util.CopyBytes(iv.b[:])
}

// AESEncrypt encrypts with AES-256-CBC/PKCS#7 under a fresh IV.
func (s *Service) AESEncrypt(plainText []byte, iv *IV, key []byte) ([]byte, error) {
	if iv == nil || iv.decryptOnly || !iv.used.CompareAndSwap(false, true) {
		return nil, ErrIVReused
	}
	ct, err := s.backend.AESCBCEncrypt(plainText, iv.b[:], key)
	return ct, classify("aes-encrypt", err, InvalidKeyLength)
}

// AESDecrypt reverses AESEncrypt. It does not authenticate; callers go
// through DecryptEncString, which verifies the MAC first.
func (s *Service) AESDecrypt(cipherText []byte, iv *IV, key []byte) ([]byte, error) {
	if iv == nil {
		return nil, newError(InvalidKeyLength, "aes-decrypt", util.ErrIVSize)
	}
	pt, err := s.backend.AESCBCDecrypt(cipherText, iv.b[:], key)
	return pt, classify("aes-decrypt", err, IntegrityCheckFailed)
}

// RSAEncrypt encrypts with RSA-OAEP. SHA1 is required to interoperate with
// legacy peers; SHA256 is preferred for new key pairs when both sides
// support it.
func (s *Service) RSAEncrypt(plainText, publicKey []byte, algo Algorithm) ([]byte, error) {
	ct, err := s.backend.RSAEncrypt(plainText, publicKey, algo)
	return ct, classify("rsa-encrypt", err, InvalidKeyLength)
}

// RSADecrypt decrypts RSA-OAEP ciphertext with a PKCS#8 private key.
func (s *Service) RSADecrypt(cipherText, privateKey []byte, algo Algorithm) ([]byte, error) {
	pt, err := s.backend.RSADecrypt(cipherText, privateKey, algo)
	return pt, classify("rsa-decrypt", err, IntegrityCheckFailed)
}

// RSAGenerateKeyPair returns SPKI public and PKCS#8 private DER bytes.
func (s *Service) RSAGenerateKeyPair(bits int) (publicKey, privateKey []byte, err error) {
	pub, priv, err := s.backend.RSAGenerateKeyPair(bits)
	return pub, priv, classify("rsa-generate", err, RandomSourceUnavailable)
}
