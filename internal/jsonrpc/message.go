// Package jsonrpc holds the minimal JSON-RPC 2.0 envelope handling the
// bridge needs: classification, id access, and error responses. Method
// semantics are deliberately untouched; the bridge forwards messages
// verbatim apart from the id field.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the protocol version stamped on responses the bridge
// synthesizes itself.
const Version = "2.0"

// NotificationPrefix marks one-way methods per the MCP convention.
// Messages with such a method never receive a response.
const NotificationPrefix = "notifications/"

// InternalErrorCode is the JSON-RPC error code used for every failure the
// bridge surfaces on its own behalf (timeout, crash, write failure).
const InternalErrorCode = -32603

// Null is the id used when the original message carried none.
var Null = json.RawMessage("null")

// Envelope is a decoded JSON-RPC message. Fields are kept raw so members
// the bridge does not understand survive the round trip byte-for-byte.
type Envelope map[string]json.RawMessage

// Decode parses a single JSON-RPC message. The message must be a JSON
// object; batches are not supported on this transport.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("jsonrpc.Decode: %w", err)
	}
	return env, nil
}

// Encode serializes the envelope back to a single line with no embedded
// newlines, ready for the stdio transport.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc.Envelope.Encode: %w", err)
	}
	if bytes.ContainsRune(data, '\n') {
		return nil, fmt.Errorf("jsonrpc.Envelope.Encode: message contains embedded newline")
	}
	return data, nil
}

// Method returns the method name, or "" for responses.
func (e Envelope) Method() string {
	raw, ok := e["method"]
	if !ok {
		return ""
	}
	var m string
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	return m
}

// ID returns the raw id field verbatim. ok is false when the field is
// absent, which classifies the message as a notification.
func (e Envelope) ID() (json.RawMessage, bool) {
	raw, ok := e["id"]
	return raw, ok
}

// SetID replaces the id field. A nil id removes it.
func (e Envelope) SetID(id json.RawMessage) {
	if id == nil {
		delete(e, "id")
		return
	}
	e["id"] = id
}

// SetInternalID stamps a bridge-assigned numeric id onto the envelope.
func (e Envelope) SetInternalID(id uint64) {
	e["id"] = json.RawMessage(strconv.FormatUint(id, 10))
}

// IsNotification reports whether no response is expected: the id is
// absent or the method name carries the notification prefix.
func (e Envelope) IsNotification() bool {
	if _, ok := e["id"]; !ok {
		return true
	}
	m := e.Method()
	return len(m) >= len(NotificationPrefix) && m[:len(NotificationPrefix)] == NotificationPrefix
}

// errorBody is the wire shape of a JSON-RPC error object.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Error   errorBody       `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// ErrorResponse builds a JSON-RPC error response carrying the caller's
// original id, or null when the message had none. The bridge never
// returns a bodyless transport error for per-request failures.
func ErrorResponse(id json.RawMessage, message string) []byte {
	if id == nil {
		id = Null
	}
	data, err := json.Marshal(errorResponse{
		Jsonrpc: Version,
		Error: errorBody{
			Code:    InternalErrorCode,
			Message: "Internal error: " + message,
		},
		ID: id,
	})
	if err != nil {
		// Marshal of a fixed struct with raw id cannot fail unless the id
		// itself is invalid JSON; fall back to a null id.
		data, _ = json.Marshal(errorResponse{
			Jsonrpc: Version,
			Error:   errorBody{Code: InternalErrorCode, Message: "Internal error: " + message},
			ID:      Null,
		})
	}
	return data
}
