package crypto

import (
	"github.com/jmcleod/ironkeep/internal/util"
)

// Algorithm names a hash function.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// Argon2idParams configures Argon2id key derivation.
type Argon2idParams = util.Argon2idParams

// Backend performs the raw primitives. A platform-accelerated implementation
// can replace SoftwareBackend, but it must be byte-identical: same padding,
// same key layouts, same encodings.
type Backend interface {
	Hash(algo Algorithm, data []byte) ([]byte, error)
	HMAC(algo Algorithm, key, data []byte) ([]byte, error)
	PBKDF2(password, salt []byte, algo Algorithm, iterations int) ([]byte, error)
	Argon2id(password, salt []byte, params Argon2idParams) ([]byte, error)
	HKDFExpand(prk, info []byte, outLen int, algo Algorithm) ([]byte, error)
	AESCBCEncrypt(plainText, iv, key []byte) ([]byte, error)
	AESCBCDecrypt(cipherText, iv, key []byte) ([]byte, error)
	RSAEncrypt(plainText, publicKey []byte, algo Algorithm) ([]byte, error)
	RSADecrypt(cipherText, privateKey []byte, algo Algorithm) ([]byte, error)
	RSAGenerateKeyPair(bits int) (publicKey, privateKey []byte, err error)
	RandomBytes(n int) ([]byte, error)
}

// SoftwareBackend is the portable Go implementation.
type SoftwareBackend struct{}

var _ Backend = SoftwareBackend{}

func (SoftwareBackend) Hash(algo Algorithm, data []byte) ([]byte, error) {
	return util.Digest(string(algo), data)
}

func (SoftwareBackend) HMAC(algo Algorithm, key, data []byte) ([]byte, error) {
	return util.HMAC(string(algo), key, data)
}

func (SoftwareBackend) PBKDF2(password, salt []byte, algo Algorithm, iterations int) ([]byte, error) {
	return util.PBKDF2(password, salt, string(algo), iterations)
}

func (SoftwareBackend) Argon2id(password, salt []byte, params Argon2idParams) ([]byte, error) {
	return util.DeriveArgon2idKey(password, salt, params)
}

func (SoftwareBackend) HKDFExpand(prk, info []byte, outLen int, algo Algorithm) ([]byte, error) {
	return util.HKDFExpand(prk, info, outLen, string(algo))
}

func (SoftwareBackend) AESCBCEncrypt(plainText, iv, key []byte) ([]byte, error) {
	return util.EncryptAESCBC(plainText, iv, key)
}

func (SoftwareBackend) AESCBCDecrypt(cipherText, iv, key []byte) ([]byte, error) {
	return util.DecryptAESCBC(cipherText, iv, key)
}

func (SoftwareBackend) RSAEncrypt(plainText, publicKey []byte, algo Algorithm) ([]byte, error) {
	return util.EncryptRSAOAEP(plainText, publicKey, string(algo))
}

func (SoftwareBackend) RSADecrypt(cipherText, privateKey []byte, algo Algorithm) ([]byte, error) {
	return util.DecryptRSAOAEP(cipherText, privateKey, string(algo))
}

func (SoftwareBackend) RSAGenerateKeyPair(bits int) ([]byte, []byte, error) {
	return util.GenerateRSAKeyPair(bits)
}

func (SoftwareBackend) RandomBytes(n int) ([]byte, error) {
	return util.RandomBytes(n)
}
