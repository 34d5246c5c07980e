package crypto

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// minFingerprintEntropy is the number of bits a rendered fingerprint must carry.
const minFingerprintEntropy = 64

// Fingerprint is the 32-byte value both parties derive independently from a
// user id and public key and compare out of band.
type Fingerprint []byte

// Fingerprint computes HKDF-Expand(SHA-256(publicKey), userID, 32, SHA-256).
// The output depends only on its inputs, so any compliant client produces the
// same bytes.
func (s *Service) Fingerprint(userID string, publicKey []byte) (Fingerprint, error) {
	if len(publicKey) == 0 {
		return nil, newError(InvalidKeyLength, "fingerprint", errors.New("empty public key"))
	}
	keyHash, err := s.Hash(publicKey, SHA256)
	if err != nil {
		return nil, err
	}
	f, err := s.HKDFExpand(keyHash, []byte(userID), 32, SHA256)
	if err != nil {
		return nil, err
	}
	return Fingerprint(f), nil
}

// Phrase renders the fingerprint as words from wordlist, taking the
// fingerprint as a big-endian integer and emitting successive remainders.
// Hosts that want cross-client agreement must use the same wordlist
// (the EFF long list is the conventional choice).
func (f Fingerprint) Phrase(wordlist []string) ([]string, error) {
	if len(wordlist) < 2 {
		return nil, fmt.Errorf("wordlist needs at least 2 words, got %d", len(wordlist))
	}
	idx, err := f.indices(len(wordlist))
	if err != nil {
		return nil, err
	}
	words := make([]string, len(idx))
	for i, n := range idx {
		words[i] = wordlist[n]
	}
	return words, nil
}

// Digits renders the fingerprint as dash-separated 5-digit groups using the
// same reduction as Phrase with a base of 100000.
func (f Fingerprint) Digits() string {
	idx, err := f.indices(100000)
	if err != nil {
		return ""
	}
	groups := make([]string, len(idx))
	for i, n := range idx {
		groups[i] = fmt.Sprintf("%05d", n)
	}
	return strings.Join(groups, "-")
}

func (f Fingerprint) indices(base int) ([]int, error) {
	perSymbol := math.Log2(float64(base))
	n := int(math.Ceil(minFingerprintEntropy / perSymbol))
	if float64(n)*perSymbol > float64(len(f)*4) {
		return nil, fmt.Errorf("fingerprint of %d bytes too short for %d symbols", len(f), n)
	}
	num := new(big.Int).SetBytes(f)
	b := big.NewInt(int64(base))
	rem := new(big.Int)
	out := make([]int, 0, n)
	for range n {
		num.DivMod(num, b, rem)
		out = append(out, int(rem.Int64()))
	}
	return out, nil
}
