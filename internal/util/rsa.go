package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"hash"
)

// GenerateRSAKeyPair returns an RSA key pair as SPKI (public) and PKCS#8
// (private) DER so the bytes are portable across platforms.
func GenerateRSAKeyPair(bits int) (publicDER, privateDER []byte, err error) {
	if bits != 2048 && bits != 4096 {
		return nil, nil, fmt.Errorf("%w: rsa modulus must be 2048 or 4096 bits, got %d", ErrKeySize, bits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: generating rsa key: %v", ErrRandom, err)
	}
	privateDER, err = x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling private key: %w", err)
	}
	publicDER, err = x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return publicDER, privateDER, nil
}

// ParseRSAPublicKey parses SPKI DER.
func ParseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing public key: %v", ErrKeySize, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %T, not RSA", ErrKeySize, pub)
	}
	return rsaPub, nil
}

// ParseRSAPrivateKey parses PKCS#8 DER.
func ParseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	priv, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing private key: %v", ErrKeySize, err)
	}
	rsaPriv, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is %T, not RSA", ErrKeySize, priv)
	}
	return rsaPriv, nil
}

// EncryptRSAOAEP encrypts with RSA-OAEP using the named hash ("sha1" or "sha256").
func EncryptRSAOAEP(plainText, publicDER []byte, hashName string) ([]byte, error) {
	h, err := oaepHash(hashName)
	if err != nil {
		return nil, err
	}
	pub, err := ParseRSAPublicKey(publicDER)
	if err != nil {
		return nil, err
	}
	return rsa.EncryptOAEP(h, rand.Reader, pub, plainText, nil)
}

// DecryptRSAOAEP decrypts RSA-OAEP ciphertext with a PKCS#8 private key.
func DecryptRSAOAEP(cipherText, privateDER []byte, hashName string) ([]byte, error) {
	h, err := oaepHash(hashName)
	if err != nil {
		return nil, err
	}
	priv, err := ParseRSAPrivateKey(privateDER)
	if err != nil {
		return nil, err
	}
	return rsa.DecryptOAEP(h, nil, priv, cipherText, nil)
}

func oaepHash(name string) (hash.Hash, error) {
	if name != "sha1" && name != "sha256" {
		return nil, fmt.Errorf("%w: oaep with %q", ErrUnsupportedHash, name)
	}
	f, err := HashFunc(name)
	if err != nil {
		return nil, err
	}
	return f(), nil
}
