package syncer

import "fmt"

// SyncErrorKind classifies sync failures.
type SyncErrorKind int

const (
	Unauthorized SyncErrorKind = iota + 1
	NetworkUnavailable
	ServerRejected
	DataOutdated
)

func (k SyncErrorKind) String() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case NetworkUnavailable:
		return "network unavailable"
	case ServerRejected:
		return "server rejected"
	case DataOutdated:
		return "data outdated"
	default:
		return "unknown"
	}
}

// SyncError reports a failed sync step. CipherID is set when the failure
// concerns one record.
type SyncError struct {
	Kind     SyncErrorKind
	CipherID string
	Err      error
}

func (e *SyncError) Error() string {
	msg := "sync: " + e.Kind.String()
	if e.CipherID != "" {
		msg += ": cipher " + e.CipherID
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is matches any *SyncError of the same kind.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnauthorized       = &SyncError{Kind: Unauthorized}
	ErrNetworkUnavailable = &SyncError{Kind: NetworkUnavailable}
	ErrServerRejected     = &SyncError{Kind: ServerRejected}
	ErrDataOutdated       = &SyncError{Kind: DataOutdated}
)
