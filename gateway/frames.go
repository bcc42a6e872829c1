package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Frame types on the wire.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// EventConnectChallenge is the first frame the gateway sends after the
// socket opens. The client must answer with a connect request.
const EventConnectChallenge = "connect.challenge"

// Frame is the single wire envelope. Which fields are populated depends
// on Type: requests carry ID/Method/Params, responses carry ID/OK and
// either Payload or Error, events carry Event/Payload and optionally Seq.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

// ErrorInfo is the error object carried by failed responses.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRequest builds a request frame with a fresh UUID id.
func NewRequest(method string, params any) (*Frame, error) {
	frame := &Frame{
		Type:   TypeRequest,
		ID:     uuid.New().String(),
		Method: method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", method, err)
		}
		frame.Params = data
	}
	return frame, nil
}

// Hello is the payload of a successful connect response.
type Hello struct {
	Protocol int            `json:"protocol"`
	Server   map[string]any `json:"server,omitempty"`
	Snapshot map[string]any `json:"snapshot,omitempty"`
}
