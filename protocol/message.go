// Package protocol defines the JSON-RPC message envelope and the stdio framing
// codec shared by the client and server engines. A frame is one self-delimited
// unit of bytes carrying exactly one message; the canonical framing is a
// Content-Length header block, with a newline-delimited legacy fallback
// accepted on decode.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the protocol version tag stamped on every message.
const Version = "2.0"

// GenericErrorCode is the single error code used for every reply-level
// failure: unknown methods, missing fields, handler errors, client timeouts
// and process-exit synthetics. Distinguishing information lives in the error
// message text only.
const GenericErrorCode = -32000

// ErrorObject is the error payload carried by a failed reply.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface so replies can surface directly as Go
// errors on the client side.
func (e *ErrorObject) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Message is the structured envelope exchanged on a stdio connection.
//
// The presence of ID distinguishes a request (expects exactly one reply) from
// a notification (expects none). Replies carry the originating ID verbatim
// plus either Result or Error, never both. ID is kept as raw JSON so numeric
// and string identifiers are echoed byte-exact.
type Message struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *ErrorObject     `json:"error,omitempty"`
}

// IsRequest reports whether the message is a request expecting a reply.
func (m *Message) IsRequest() bool { return m.Method != "" && m.ID != nil }

// IsNotification reports whether the message is a fire-and-forget notification.
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == nil }

// IsReply reports whether the message answers a previously issued request.
func (m *Message) IsReply() bool { return m.Method == "" && m.ID != nil }

// IDKey returns a canonical map key for the message identifier, or "" if the
// message has none. Correlation is done on this key, never on arrival order.
func (m *Message) IDKey() string {
	if m.ID == nil {
		return ""
	}
	var v any
	if err := json.Unmarshal(*m.ID, &v); err != nil {
		return string(*m.ID)
	}
	switch id := v.(type) {
	case string:
		return "s:" + id
	case float64:
		return "n:" + strconv.FormatInt(int64(id), 10)
	default:
		return string(*m.ID)
	}
}

// NumericID wraps an int64 identifier as raw JSON suitable for Message.ID.
func NumericID(id int64) *json.RawMessage {
	raw := json.RawMessage(strconv.FormatInt(id, 10))
	return &raw
}

// NewRequest builds a request message with the given identifier, marshalling
// params to JSON. A nil params leaves the field absent.
func NewRequest(id int64, method string, params any) (Message, error) {
	msg := Message{JSONRPC: Version, ID: NumericID(id), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Message{}, fmt.Errorf("marshal params for %q: %w", method, err)
		}
		msg.Params = raw
	}
	return msg, nil
}

// NewNotification builds a message carrying a method but no identifier.
func NewNotification(method string, params any) (Message, error) {
	msg := Message{JSONRPC: Version, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Message{}, fmt.Errorf("marshal params for %q: %w", method, err)
		}
		msg.Params = raw
	}
	return msg, nil
}

// NewResult builds a successful reply echoing the originating identifier.
func NewResult(id *json.RawMessage, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("marshal result: %w", err)
	}
	return Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds a failed reply echoing the originating identifier.
func NewError(id *json.RawMessage, code int, format string, args ...any) Message {
	return Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: fmt.Sprintf(format, args...)},
	}
}
