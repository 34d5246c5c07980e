package vault

import (
	"errors"
	"fmt"
)

// DecryptErrorKind classifies record decryption failures.
type DecryptErrorKind int

const (
	FieldFailed DecryptErrorKind = iota + 1
	KeyUnavailable
)

func (k DecryptErrorKind) String() string {
	switch k {
	case FieldFailed:
		return "field failed"
	case KeyUnavailable:
		return "key unavailable"
	default:
		return "unknown"
	}
}

// DecryptError reports why a record could not be turned into a view. Field
// names the first field that failed for FieldFailed.
type DecryptError struct {
	Kind     DecryptErrorKind
	CipherID string
	Field    string
	Err      error
}

func (e *DecryptError) Error() string {
	msg := "decrypt " + e.Kind.String()
	if e.CipherID != "" {
		msg += ": cipher " + e.CipherID
	}
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

// Is matches any *DecryptError of the same kind.
func (e *DecryptError) Is(target error) bool {
	t, ok := target.(*DecryptError)
	return ok && t.Kind == e.Kind
}

var (
	ErrFieldFailed    = &DecryptError{Kind: FieldFailed}
	ErrKeyUnavailable = &DecryptError{Kind: KeyUnavailable}

	// ErrValidation wraps malformed records and views.
	ErrValidation = errors.New("validation failed")
)

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
