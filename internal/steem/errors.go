package steem

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBlockNotFound is returned when the node has no block at a height.
var ErrBlockNotFound = errors.New("block not found")

// TransportError is a network or HTTP level failure. The request may be
// retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is a response that does not match its request: a wrong
// shape, a missing or mismatched id, or an undecodable envelope.
type ProtocolError struct {
	Msg string
	// Retryable marks shape errors that a repeated request may not hit,
	// such as a truncated batch response.
	Retryable bool
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Msg
}

// RPCError is an error object returned by the node for one call.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsRetryable reports whether a batch that failed with err may be retried.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
