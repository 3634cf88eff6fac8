package feed

import (
	"fmt"
	"net/http"
)

// Kind classifies why a fetch failed
type Kind int

const (
	KindNetwork Kind = iota
	KindTimeout
	KindStatus
	KindDecode
	KindEmpty
	KindField
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	case KindEmpty:
		return "empty"
	case KindField:
		return "field"
	default:
		return "unknown"
	}
}

// FetchError is returned by every failed FetchLatest call.
type FetchError struct {
	Kind       Kind
	StatusCode int // set for KindStatus
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("feed fetch failed (%s %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("feed fetch failed (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same request may succeed.
// Network failures, timeouts, 429 and 5xx responses are transient.
func (e *FetchError) Transient() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindStatus:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	default:
		return false
	}
}
