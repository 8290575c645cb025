package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies gateway failures.
type ErrorKind int

const (
	KindConfiguration ErrorKind = iota + 1
	KindCredential
	KindAuthExpired
	KindNetwork
	KindProtocol
	KindAllProvidersFailed
	KindTimeout
	KindValidation
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindCredential:
		return "credential"
	case KindAuthExpired:
		return "auth expired"
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindAllProvidersFailed:
		return "all providers failed"
	case KindTimeout:
		return "timeout"
	case KindValidation:
		return "validation"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Any *Error matches the sentinel of its kind.
var (
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrCredential         = &Error{Kind: KindCredential}
	ErrAuthExpired        = &Error{Kind: KindAuthExpired}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrProtocol           = &Error{Kind: KindProtocol}
	ErrAllProvidersFailed = &Error{Kind: KindAllProvidersFailed}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrCanceled           = &Error{Kind: KindCanceled}
)

// ErrNoCredentials is returned by a CredentialSource that has no secret
// for a provider.
var ErrNoCredentials = errors.New("no credentials configured")

// Error is a typed gateway error.
type Error struct {
	Kind       ErrorKind
	Provider   string
	Model      string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Provider != "" {
		b.WriteString(" (")
		b.WriteString(e.Provider)
		if e.Model != "" {
			b.WriteString("/")
			b.WriteString(e.Model)
		}
		if e.StatusCode != 0 {
			fmt.Fprintf(&b, ", status %d", e.StatusCode)
		}
		b.WriteString(")")
	} else if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Provider == "" && t.Message == "" && t.Cause == nil
}

// Errorf returns an *Error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain,
// or 0 when err carries none.
func KindOf(err error) ErrorKind {
	if errors.Is(err, ErrAllProvidersFailed) {
		return KindAllProvidersFailed
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// KindForStatus classifies an upstream HTTP status code. Rejected
// credentials map to KindAuthExpired; throttling, timeouts and server
// failures to KindNetwork; any other failure to KindProtocol.
func KindForStatus(code int) ErrorKind {
	switch {
	case code == 401 || code == 403:
		return KindAuthExpired
	case code == 408 || code == 429 || code >= 500:
		return KindNetwork
	default:
		return KindProtocol
	}
}
