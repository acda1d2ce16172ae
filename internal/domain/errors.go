package domain

import "fmt"

// AuthError means token issuance or refresh failed. The credential lease
// retries internally; callers see it only when no valid token exists yet.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError is a stream connect/send/receive failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// DataUnavailable means a quote or history call failed or came back empty.
// The scheduler skips the affected symbol for the iteration.
type DataUnavailable struct {
	Resource string
	Symbol   string
	Err      error
}

func (e *DataUnavailable) Error() string {
	return fmt.Sprintf("data unavailable: %s %s: %v", e.Resource, e.Symbol, e.Err)
}

func (e *DataUnavailable) Unwrap() error { return e.Err }

// OrderRejected carries the broker's decline code and message.
type OrderRejected struct {
	Code    string
	Message string
}

func (e *OrderRejected) Error() string {
	return fmt.Sprintf("order rejected: code=%s msg=%s", e.Code, e.Message)
}

// ProtocolError is a malformed or unexpected message on the stream.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol: %s", e.Message) }
