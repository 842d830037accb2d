// Package jsonrpc provides shared JSON-RPC 2.0 types used on both the
// provider (MCP) and agent callback paths.
package jsonrpc

import (
	"encoding/json"
	"strconv"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return "RPC error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// Standard JSON-RPC error codes, plus the custom agent-side error code.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
	AgentError     = -32000
)

// NewRequest creates a JSON-RPC request with a numeric id.
func NewRequest(id int64, method string, params any) (Request, error) {
	idBytes, _ := json.Marshal(id)
	rawID := json.RawMessage(idBytes)

	var paramsBytes json.RawMessage
	if params != nil {
		var err error
		paramsBytes, err = json.Marshal(params)
		if err != nil {
			return Request{}, err
		}
	}

	return Request{
		JSONRPC: "2.0",
		ID:      &rawID,
		Method:  method,
		Params:  paramsBytes,
	}, nil
}

// NewErrorResponse creates a JSON-RPC error response.
func NewErrorResponse(id *json.RawMessage, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// NewSuccessResponse creates a JSON-RPC success response.
func NewSuccessResponse(id *json.RawMessage, result any) Response {
	var resultBytes json.RawMessage
	if result != nil {
		resultBytes, _ = json.Marshal(result)
	}
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  resultBytes,
	}
}

// IDKey canonicalizes a request id for use as a map key. JSON-RPC ids may be
// strings or numbers; both correlate by their literal JSON encoding with
// string quotes stripped, so "r1" and r1 never collide with 1.
func IDKey(id *json.RawMessage) string {
	if id == nil {
		return ""
	}
	raw := string(*id)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		var s string
		if err := json.Unmarshal(*id, &s); err == nil {
			return "s:" + s
		}
	}
	return "n:" + raw
}
