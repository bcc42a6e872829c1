package gateway

import (
	"errors"
	"fmt"
)

// ErrDisconnected rejects in-flight requests when the connection drops.
var ErrDisconnected = errors.New("gateway: disconnected")

// ErrTimeout is returned when an RPC gets no response in time.
var ErrTimeout = errors.New("gateway: request timed out")

// ErrNotConnected is returned when an RPC is attempted before Connect.
var ErrNotConnected = errors.New("gateway: not connected")

// ConnectError reports a failed handshake. Code is set when the gateway
// itself rejected the connect request (for example bad auth).
type ConnectError struct {
	Code    string
	Message string
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway connect failed: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("gateway connect failed: %s", e.Message)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// RemoteError is a structured failure reported by the gateway for a
// single RPC.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}
