package crypto

import (
	"errors"
	"fmt"

	"github.com/jmcleod/ironkeep/internal/util"
)

// ErrorKind classifies primitive failures. Callers branch on the kind, so
// primitives never collapse these into untyped errors.
type ErrorKind int

const (
	InvalidKeyLength ErrorKind = iota + 1
	UnsupportedAlgorithm
	IntegrityCheckFailed
	RandomSourceUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidKeyLength:
		return "invalid key length"
	case UnsupportedAlgorithm:
		return "unsupported algorithm"
	case IntegrityCheckFailed:
		return "integrity check failed"
	case RandomSourceUnavailable:
		return "random source unavailable"
	default:
		return "unknown"
	}
}

// CryptoError is returned by every primitive in this package.
type CryptoError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *CryptoError) Error() string {
	switch {
	case e.Op == "":
		return "crypto: " + e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("crypto: %s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("crypto: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// Is matches any *CryptoError of the same kind, so the kind sentinels below
// work with errors.Is.
func (e *CryptoError) Is(target error) bool {
	t, ok := target.(*CryptoError)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidKeyLength        = &CryptoError{Kind: InvalidKeyLength}
	ErrUnsupportedAlgorithm    = &CryptoError{Kind: UnsupportedAlgorithm}
	ErrIntegrityCheckFailed    = &CryptoError{Kind: IntegrityCheckFailed}
	ErrRandomSourceUnavailable = &CryptoError{Kind: RandomSourceUnavailable}
)

// ErrIVReused is returned when an IV is presented for a second encryption,
// or a decrypt-only IV is presented for encryption.
var ErrIVReused = errors.New("crypto: IV already used")

func newError(kind ErrorKind, op string, err error) *CryptoError {
	return &CryptoError{Kind: kind, Op: op, Err: err}
}

// classify maps backend failures onto error kinds. Failures the backend did
// not already classify fall back to the given kind.
func classify(op string, err error, fallback ErrorKind) error {
	if err == nil {
		return nil
	}
	if ce, ok := errors.AsType[*CryptoError](err); ok {
		if ce.Op == "" {
			return newError(ce.Kind, op, ce.Err)
		}
		return ce
	}
	switch {
	case errors.Is(err, util.ErrKeySize), errors.Is(err, util.ErrIVSize), errors.Is(err, util.ErrOutputLength):
		return newError(InvalidKeyLength, op, err)
	case errors.Is(err, util.ErrUnsupportedHash):
		return newError(UnsupportedAlgorithm, op, err)
	case errors.Is(err, util.ErrRandom):
		return newError(RandomSourceUnavailable, op, err)
	case errors.Is(err, util.ErrPadding):
		return newError(IntegrityCheckFailed, op, err)
	default:
		return newError(fallback, op, err)
	}
}
