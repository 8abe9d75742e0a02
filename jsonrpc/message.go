package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// Version is the only protocol version accepted.
const Version = "2.0"

var nullJSON = json.RawMessage("null")

// Request is one decoded inbound call or notification.
//
// ID is nil when the id key is absent, which makes the request a
// notification. An explicit "id": null is kept as the raw JSON null and the
// request is a call that gets a response.
type Request struct {
	JSONRPC string
	Method  string
	Params  json.RawMessage // nil when absent
	ID      json.RawMessage
	RawSize int
}

// IsNotification reports whether the request carried no id key.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response is a result or error response for a call.
type Response struct {
	ID     json.RawMessage
	Result json.RawMessage
	Error  *JSONRPCError
}

// clone returns a copy that shares no memory with r.
func (r *Response) clone() *Response {
	c := &Response{ID: bytes.Clone(r.ID), Result: bytes.Clone(r.Result)}
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	return c
}

// NewResultResponse returns a success response. A nil result encodes as null.
func NewResultResponse(id, result json.RawMessage) *Response {
	return &Response{ID: id, Result: result}
}

// NewErrorResponse returns an error response. A nil id encodes as null.
func NewErrorResponse(id json.RawMessage, err *JSONRPCError) *Response {
	return &Response{ID: id, Error: err}
}

// MarshalJSON writes the members in the order jsonrpc, result or error, id.
// The id member is always present.
func (r *Response) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"jsonrpc":"2.0",`)
	if r.Error != nil {
		errJSON, err := json.Marshal(r.Error)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`"error":`)
		buf.Write(errJSON)
	} else {
		buf.WriteString(`"result":`)
		buf.Write(orNull(r.Result))
	}
	buf.WriteString(`,"id":`)
	buf.Write(orNull(r.ID))
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// notification is a server-initiated notification.
type notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nullJSON
	}
	return raw
}
