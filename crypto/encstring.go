package crypto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmcleod/ironkeep/internal/util"
)

// EncType identifies the scheme of an EncString.
type EncType int

const (
	EncTypeAesCbc256B64           EncType = 0
	EncTypeAesCbc128HmacSha256B64 EncType = 1
	EncTypeAesCbc256HmacSha256B64 EncType = 2
	EncTypeRsa2048OaepSha256B64   EncType = 3
	EncTypeRsa2048OaepSha1B64     EncType = 4
	macSize                               = 32
	encStringSeparator                    = "|"
	encStringTypeSeparator                = "."
)

// EncString is one encrypted field in its portable form:
//
//	2.<base64 iv>|<base64 ciphertext>|<base64 mac>
//	4.<base64 rsa ciphertext>
//
// The zero value means "no value" and marshals to the empty string.
type EncString struct {
	Type EncType
	IV   []byte
	Data []byte
	MAC  []byte
}

// ParseEncString decodes the wire form.
func ParseEncString(s string) (EncString, error) {
	if s == "" {
		return EncString{}, nil
	}
	head, body, ok := strings.Cut(s, encStringTypeSeparator)
	if !ok {
		return EncString{}, newError(IntegrityCheckFailed, "parse-encstring", errors.New("missing type prefix"))
	}
	t, err := strconv.Atoi(head)
	if err != nil {
		return EncString{}, newError(IntegrityCheckFailed, "parse-encstring", fmt.Errorf("bad type %q", head))
	}
	parts := strings.Split(body, encStringSeparator)
	decode := func(i int) ([]byte, error) {
		b, err := util.B64Decode(parts[i])
		if err != nil {
			return nil, newError(IntegrityCheckFailed, "parse-encstring", err)
		}
		return b, nil
	}

	es := EncString{Type: EncType(t)}
	switch es.Type {
	case EncTypeAesCbc256HmacSha256B64:
		if len(parts) != 3 {
			return EncString{}, newError(IntegrityCheckFailed, "parse-encstring", fmt.Errorf("expected 3 parts, got %d", len(parts)))
		}
		if es.IV, err = decode(0); err != nil {
			return EncString{}, err
		}
		if es.Data, err = decode(1); err != nil {
			return EncString{}, err
		}
		if es.MAC, err = decode(2); err != nil {
			return EncString{}, err
		}
	case EncTypeAesCbc256B64:
		// Accepted on the wire so callers get IntegrityCheckFailed on decrypt
		// rather than a parse error.
		if len(parts) != 2 {
			return EncString{}, newError(IntegrityCheckFailed, "parse-encstring", fmt.Errorf("expected 2 parts, got %d", len(parts)))
		}
		if es.IV, err = decode(0); err != nil {
			return EncString{}, err
		}
		if es.Data, err = decode(1); err != nil {
			return EncString{}, err
		}
	case EncTypeRsa2048OaepSha256B64, EncTypeRsa2048OaepSha1B64:
		if len(parts) != 1 {
			return EncString{}, newError(IntegrityCheckFailed, "parse-encstring", fmt.Errorf("expected 1 part, got %d", len(parts)))
		}
		if es.Data, err = decode(0); err != nil {
			return EncString{}, err
		}
	default:
		return EncString{}, newError(UnsupportedAlgorithm, "parse-encstring", fmt.Errorf("enc type %d", t))
	}
	return es, nil
}

// MustParseEncString is ParseEncString for literals in tests and fixtures.
func MustParseEncString(s string) EncString {
	es, err := ParseEncString(s)
	if err != nil {
		panic(err)
	}
	return es
}

// IsZero reports whether the EncString holds no value.
func (e EncString) IsZero() bool {
	return e.Type == 0 && len(e.IV) == 0 && len(e.Data) == 0 && len(e.MAC) == 0
}

func (e EncString) String() string {
	if e.IsZero() {
		return ""
	}
	var parts []string
	switch e.Type {
	case EncTypeRsa2048OaepSha256B64, EncTypeRsa2048OaepSha1B64:
		parts = []string{util.B64Encode(e.Data)}
	case EncTypeAesCbc256B64:
		parts = []string{util.B64Encode(e.IV), util.B64Encode(e.Data)}
	default:
		parts = []string{util.B64Encode(e.IV), util.B64Encode(e.Data), util.B64Encode(e.MAC)}
	}
	return strconv.Itoa(int(e.Type)) + encStringTypeSeparator + strings.Join(parts, encStringSeparator)
}

func (e EncString) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *EncString) UnmarshalText(b []byte) error {
	parsed, err := ParseEncString(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// EncryptToEncString encrypts plainText under key with a fresh IV and
// authenticates iv||ciphertext with the key's MAC half.
func (s *Service) EncryptToEncString(plainText []byte, key *SymmetricKey) (EncString, error) {
	if key == nil {
		return EncString{}, newError(InvalidKeyLength, "encrypt", errors.New("nil key"))
	}
	iv, err := s.NewIV()
	if err != nil {
		return EncString{}, err
	}
	ct, err := s.AESEncrypt(plainText, iv, key.EncKey())
	if err != nil {
		return EncString{}, err
	}
	ivBytes := iv.Bytes()
	mac, err := s.HMAC(util.Concat(ivBytes, ct), key.MacKey(), SHA256)
	if err != nil {
		return EncString{}, err
	}
	return EncString{Type: EncTypeAesCbc256HmacSha256B64, IV: ivBytes, Data: ct, MAC: mac}, nil
}

// DecryptEncString verifies the MAC in constant time and only then decrypts.
// A missing or wrong MAC is always IntegrityCheckFailed.
func (s *Service) DecryptEncString(es EncString, key *SymmetricKey) ([]byte, error) {
	const op = "decrypt"
	if key == nil {
		return nil, newError(InvalidKeyLength, op, errors.New("nil key"))
	}
	switch es.Type {
	case EncTypeAesCbc256HmacSha256B64:
	case EncTypeAesCbc256B64:
		return nil, newError(IntegrityCheckFailed, op, errors.New("unauthenticated enc type 0"))
	default:
		return nil, newError(UnsupportedAlgorithm, op, fmt.Errorf("enc type %d with a symmetric key", es.Type))
	}
	if len(es.MAC) != macSize {
		return nil, newError(IntegrityCheckFailed, op, errors.New("missing mac"))
	}
	iv, err := ParseIV(es.IV)
	if err != nil {
		return nil, newError(IntegrityCheckFailed, op, err)
	}
	want, err := s.HMAC(util.Concat(es.IV, es.Data), key.MacKey(), SHA256)
	if err != nil {
		return nil, err
	}
	ok, err := s.Compare(want, es.MAC)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(IntegrityCheckFailed, op, errors.New("mac mismatch"))
	}
	pt, err := s.AESDecrypt(es.Data, iv, key.EncKey())
	if err != nil {
		return nil, classify(op, err, IntegrityCheckFailed)
	}
	return pt, nil
}

// EncryptToRSAEncString wraps plainText to an SPKI public key as type 4
// (OAEP SHA-1), the form legacy peers can open.
func (s *Service) EncryptToRSAEncString(plainText, publicKey []byte) (EncString, error) {
	ct, err := s.RSAEncrypt(plainText, publicKey, SHA1)
	if err != nil {
		return EncString{}, err
	}
	return EncString{Type: EncTypeRsa2048OaepSha1B64, Data: ct}, nil
}

// DecryptRSAEncString opens a type 3 or type 4 EncString.
func (s *Service) DecryptRSAEncString(es EncString, privateKey []byte) ([]byte, error) {
	var algo Algorithm
	switch es.Type {
	case EncTypeRsa2048OaepSha1B64:
		algo = SHA1
	case EncTypeRsa2048OaepSha256B64:
		algo = SHA256
	default:
		return nil, newError(UnsupportedAlgorithm, "rsa-decrypt", fmt.Errorf("enc type %d with a private key", es.Type))
	}
	return s.RSADecrypt(es.Data, privateKey, algo)
}
