package tavusclient

import (
	"errors"
	"fmt"
)

// Kind classifies why a vendor call failed.
type Kind string

const (
	KindNone      Kind = ""
	KindConfig    Kind = "config"
	KindTransport Kind = "transport"
	KindRemote    Kind = "remote"
	KindProtocol  Kind = "protocol"
)

// Error is returned for every failed Create or End call.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindConfig:
		return fmt.Sprintf("tavusclient: %s: %s", e.Op, e.Detail)
	case KindRemote:
		if e.Detail != "" {
			return fmt.Sprintf("tavusclient: %s: HTTP error! status: %d (%s)", e.Op, e.StatusCode, e.Detail)
		}
		return fmt.Sprintf("tavusclient: %s: HTTP error! status: %d", e.Op, e.StatusCode)
	case KindProtocol:
		if e.Err != nil {
			return fmt.Sprintf("tavusclient: %s: %s: %v", e.Op, e.Detail, e.Err)
		}
		return fmt.Sprintf("tavusclient: %s: %s", e.Op, e.Detail)
	default:
		return fmt.Sprintf("tavusclient: %s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt may succeed without a human fixing
// configuration or the vendor contract.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport:
		return true
	case KindRemote:
		return e.StatusCode == 429 || e.StatusCode >= 500
	default:
		return false
	}
}

// KindOf returns the classification of err, or KindNone for nil and foreign errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindNone
}

// StatusCode returns the HTTP status carried by a remote error, or 0.
func StatusCode(err error) int {
	var te *Error
	if errors.As(err, &te) && te.Kind == KindRemote {
		return te.StatusCode
	}
	return 0
}

// IsGone reports a 404 from the vendor: the conversation no longer exists, so
// there is nothing left to end.
func IsGone(err error) bool {
	return StatusCode(err) == 404
}

func configError(op string) error {
	return &Error{Kind: KindConfig, Op: op, Detail: "TAVUS_API_KEY is not configured"}
}
