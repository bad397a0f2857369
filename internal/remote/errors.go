package remote

import (
	"errors"
	"fmt"
)

// Error is the failure half of every Client call.
// StatusCode is 0 when no HTTP response was received.
type Error struct {
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return "transport: " + e.Message
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Fault classifies a failed call for retry decisions.
type Fault int

const (
	// FaultNone means the error did not come from this package.
	FaultNone Fault = iota
	// FaultTransport: no response reached us (DNS, timeout, reset). Retryable.
	FaultTransport
	// FaultServer: 5xx, or a 2xx whose body was empty or unreadable. Retryable.
	FaultServer
	// FaultClient: 4xx or other application rejection. Not retryable.
	FaultClient
)

func (f Fault) String() string {
	switch f {
	case FaultTransport:
		return "transport"
	case FaultServer:
		return "server"
	case FaultClient:
		return "client"
	default:
		return "none"
	}
}

// Retryable reports whether repeating the same request later may succeed.
func (f Fault) Retryable() bool {
	return f == FaultTransport || f == FaultServer
}

// Classify returns the fault class of err.
func Classify(err error) Fault {
	var re *Error
	if !errors.As(err, &re) {
		return FaultNone
	}
	switch {
	case re.StatusCode == 0:
		return FaultTransport
	case re.StatusCode >= 500, re.StatusCode < 300:
		return FaultServer
	default:
		return FaultClient
	}
}
