// Package protocol implements the wire shapes Nucleus speaks on both legs:
// host-facing (stdio JSON-RPC server) and child-facing (Child MCP Client).
// Both legs use the same JSON-RPC 2.0 envelope and MCP method/result shapes,
// so one package models them; this mirrors the field names
// github.com/viant/jsonrpc and github.com/viant/mcp-protocol/schema use in
// the teacher, reimplemented locally because spec.md §4.8 makes the wire
// format first-class module scope rather than an adapted client leg.
package protocol

import "encoding/json"

// RequestID is a JSON-RPC request id: a string or a number on the wire.
type RequestID struct {
	raw json.RawMessage
}

// NewIntID builds a RequestID from an integer.
func NewIntID(n int) RequestID {
	b, _ := json.Marshal(n)
	return RequestID{raw: b}
}

// NewStringID builds a RequestID from a string.
func NewStringID(s string) RequestID {
	b, _ := json.Marshal(s)
	return RequestID{raw: b}
}

// IsZero reports whether the id was never set (used to distinguish absent
// "id" — a notification — from a present id).
func (r RequestID) IsZero() bool { return len(r.raw) == 0 }

func (r RequestID) String() string {
	return string(r.raw)
}

func (r RequestID) MarshalJSON() ([]byte, error) {
	if len(r.raw) == 0 {
		return []byte("null"), nil
	}
	return r.raw, nil
}

func (r *RequestID) UnmarshalJSON(data []byte) error {
	r.raw = append(r.raw[:0], data...)
	return nil
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// Envelope is the superset of fields a line on the wire may carry: a
// request/notification has Method (+ optional ID), a response has ID and
// either Result or Err.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsRequest reports whether e carries a method and an id (a call expecting
// a reply, as opposed to a notification or a response).
func (e Envelope) IsRequest() bool { return e.Method != "" && e.ID != nil }

// IsNotification reports whether e carries a method but no id.
func (e Envelope) IsNotification() bool { return e.Method != "" && e.ID == nil }

// IsResponse reports whether e carries an id but no method (a reply to a
// previously issued request).
func (e Envelope) IsResponse() bool { return e.Method == "" && e.ID != nil }

const Version = "2.0"

// NewRequest builds a request Envelope.
func NewRequest(id RequestID, method string, params interface{}) (Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{JSONRPC: Version, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification Envelope (no id).
func NewNotification(method string, params interface{}) (Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult builds a success-response Envelope.
func NewResult(id RequestID, result interface{}) (Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{JSONRPC: Version, ID: &id, Result: raw}, nil
}

// NewError builds an error-response Envelope.
func NewError(id RequestID, code int, message string) Envelope {
	return Envelope{JSONRPC: Version, ID: &id, Error: &Error{Code: code, Message: message}}
}

// --- MCP method/result shapes shared by both legs ---

// ClientInfo identifies the calling side during initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the payload of the "initialize" method.
type InitializeParams struct {
	ClientInfo ClientInfo `json:"client_info"`
}

// ServerInfo identifies the responding side during initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities advertises supported feature areas.
type Capabilities struct {
	Tools map[string]interface{} `json:"tools"`
}

// InitializeResult is the payload of a successful "initialize" reply.
type InitializeResult struct {
	ServerInfo   ServerInfo   `json:"serverInfo"`
	Capabilities Capabilities `json:"capabilities"`
}

// ToolInputSchema is a restricted JSON-Schema subset: objects, strings,
// numbers, arrays, booleans, and required, per spec.md §9.
type ToolInputSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
}

// Tool describes one callable tool as surfaced by tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ListToolsResult is the payload of a "tools/list" reply.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams is the payload of a "tools/call" request.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ContentBlock is one element of CallToolResult.Content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the payload of a "tools/call" reply.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// TextResult is a convenience constructor for a single-block text result.
func TextResult(text string) CallToolResult {
	return CallToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ErrorResult is a convenience constructor for a single-block error result.
func ErrorResult(text string) CallToolResult {
	return CallToolResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}
