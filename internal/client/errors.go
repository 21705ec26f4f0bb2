// Package client is the customer/staff side of the live channel: a
// reconnecting connection manager, an optimistic send coordinator and the
// session that owns both.
package client

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means the credential was missing or refused. The
	// manager does not retry it.
	ErrUnauthenticated = errors.New("client: unauthenticated")
	// ErrRetryBudgetExhausted is reported once the reconnect loop gives up.
	ErrRetryBudgetExhausted = errors.New("client: reconnect retry budget exhausted")
	// ErrSendFailed wraps every failure of an optimistic send.
	ErrSendFailed = errors.New("client: send failed")
	// ErrAckTimeout is the cause of a send that was never acknowledged.
	ErrAckTimeout = errors.New("client: no acknowledgement received")
	// ErrNotConnected is returned when no connection is up.
	ErrNotConnected = errors.New("client: not connected")
	// ErrClosed is returned after explicit teardown.
	ErrClosed = errors.New("client: closed")
)

// NetworkError is a transient transport failure. The connection manager
// recovers from it by reconnecting.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("client: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is a NetworkError.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
