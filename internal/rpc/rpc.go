// Package rpc implements the JSON-RPC method-name -> handler map
// described in Design Notes' "Dynamic dispatch on RPC handlers: a
// method-name -> handler map registered at boot beats inheritance;
// handlers are stateless closures capturing service handles" and the
// five error codes of §6.
//
// Per spec §1 ("the REST/JSON-RPC façade... specified only via their
// interface to the core" is out of scope) this package stops at
// Dispatch: there is no net/http listener here, only the contract an
// external façade would call into. cmd/bw-node wires an http.Handler
// around Dispatch if and when a transport is needed.
package rpc

import (
	"encoding/json"
	"errors"

	"wimble.dev/node/internal/corerr"
)

// Error codes from §6's JSON-RPC envelope.
const (
	CodeMalformed          = -32600
	CodeUnknownMethod      = -32601
	CodeInvalidParams      = -32602
	CodeConsensusRejection = -1
	CodeNotFound           = -2
)

// Request is the standard JSON-RPC request envelope (§6).
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the standard JSON-RPC response envelope, carrying exactly
// one of Result or Error.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrNotFound is returned by a handler to signal §6's -2 "not found"
// without naming a consensus rule — Dispatch maps it to CodeNotFound.
var ErrNotFound = errors.New("rpc: not found")

// Handler is one stateless closure capturing whatever service handle it
// needs (Chain, Pool, ...); params is the raw JSON params array/object
// from the request.
type Handler func(params json.RawMessage) (any, error)

// Table is the method-name -> handler map registered at boot (Design
// Notes' "Dynamic dispatch on RPC handlers").
type Table map[string]Handler

// NewTable builds the fixed method set named in spec §6: get_header,
// get_block, get_version, get_tip, push_transaction. svc supplies the
// service handles each handler closes over.
func NewTable(svc Services) Table {
	return Table{
		"get_header":       handleGetHeader(svc),
		"get_block":        handleGetBlock(svc),
		"get_version":      handleGetVersion(svc),
		"get_tip":          handleGetTip(svc),
		"push_transaction": handlePushTransaction(svc),
	}
}

// Dispatch looks up req.Method in t and runs the matching handler,
// translating an unknown method or a handler error into the appropriate
// JSON-RPC error code. Malformed request bodies are reported by
// DecodeRequest, before Dispatch is reached.
func Dispatch(t Table, req Request) Response {
	resp := Response{ID: req.ID}

	h, ok := t[req.Method]
	if !ok {
		resp.Error = &Error{Code: CodeUnknownMethod, Message: "unknown method: " + req.Method}
		return resp
	}

	result, err := h(req.Params)
	if err == nil {
		resp.Result = result
		return resp
	}

	switch {
	case errors.Is(err, ErrNotFound):
		resp.Error = &Error{Code: CodeNotFound, Message: err.Error()}
	case isInvalidParams(err):
		resp.Error = &Error{Code: CodeInvalidParams, Message: err.Error()}
	default:
		resp.Error = &Error{Code: CodeConsensusRejection, Message: err.Error()}
	}
	return resp
}

// DecodeRequest parses a raw JSON-RPC request body, returning a
// CodeMalformed Response directly (rather than an error) on failure so
// callers always have something to serialize back to the client.
func DecodeRequest(raw []byte) (Request, *Response) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, &Response{Error: &Error{Code: CodeMalformed, Message: "malformed request: " + err.Error()}}
	}
	if req.Method == "" {
		return Request{}, &Response{ID: req.ID, Error: &Error{Code: CodeMalformed, Message: "missing method"}}
	}
	return req, nil
}

type invalidParamsError struct{ err error }

func (e *invalidParamsError) Error() string { return e.err.Error() }
func (e *invalidParamsError) Unwrap() error { return e.err }

func invalidParams(err error) error { return &invalidParamsError{err: err} }

func isInvalidParams(err error) bool {
	var ip *invalidParamsError
	return errors.As(err, &ip)
}

// asConsensusRejection unwraps err to its *corerr.Error, if it carries
// one, and otherwise returns err unchanged; either way Dispatch reports
// it through its default branch (-1), the shape handlers use for
// push_transaction failures.
func asConsensusRejection(err error) error {
	var ce *corerr.Error
	if errors.As(err, &ce) {
		return ce
	}
	return err
}
