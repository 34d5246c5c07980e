package key

import (
	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/internal/util"
)

// PrivateKey is the user's RSA private key in PKCS#8 DER form. It decrypts
// type 3 and type 4 EncStrings, which is how organization keys reach the user.
type PrivateKey struct {
	keyID string
	der   []byte
}

var _ Decrypter = (*PrivateKey)(nil)

// NewPrivateKey copies der.
func NewPrivateKey(keyID string, der []byte) *PrivateKey {
	return &PrivateKey{keyID: keyID, der: util.CopyBytes(der)}
}

func (p *PrivateKey) ID() string {
	return p.keyID
}

func (p *PrivateKey) Decrypt(es crypto.EncString) ([]byte, error) {
	return crypto.Default().DecryptRSAEncString(es, p.der)
}

// DER returns the key bytes. The slice is owned by the PrivateKey.
func (p *PrivateKey) DER() []byte {
	return p.der
}

// EncryptKey wraps the private key under e.
func (p *PrivateKey) EncryptKey(e Encrypter) (EncryptedKey, error) {
	return newEncryptedKey(e, p.keyID, Private, p.der)
}

func (p *PrivateKey) Wipe() {
	util.WipeBytes(p.der)
}

// PublicKey is an SPKI DER RSA public key. Anything encrypted to it can only
// be opened by the matching PrivateKey.
type PublicKey struct {
	keyID string
	der   []byte
}

var _ Encrypter = (*PublicKey)(nil)

func NewPublicKey(keyID string, der []byte) *PublicKey {
	return &PublicKey{keyID: keyID, der: util.CopyBytes(der)}
}

func (p *PublicKey) ID() string {
	return p.keyID
}

func (p *PublicKey) Encrypt(plainText []byte) (crypto.EncString, error) {
	return crypto.Default().EncryptToRSAEncString(plainText, p.der)
}

func (p *PublicKey) DER() []byte {
	return util.CopyBytes(p.der)
}

// GenerateKeyPair creates an RSA key pair of the given size.
func GenerateKeyPair(keyID string, bits int) (*PrivateKey, *PublicKey, error) {
	pub, priv, err := crypto.Default().RSAGenerateKeyPair(bits)
	if err != nil {
		return nil, nil, err
	}
	return &PrivateKey{keyID: keyID, der: priv}, &PublicKey{keyID: keyID, der: pub}, nil
}
