package util

import (
	"encoding/base64"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFC and is used for identifiers that feed key
// derivation, so the same account yields the same salt on every platform.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

// NormalizeEmail trims, lower-cases and NFC-normalizes an account email.
func NormalizeEmail(email string) string {
	return Normalize(strings.ToLower(strings.TrimSpace(email)))
}

func B64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func B64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
