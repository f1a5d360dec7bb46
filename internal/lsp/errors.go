package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the link engine.
var (
	// ErrNotSupported indicates no connected server advertises document
	// link support. Callers treat this as a silent no-op, not a failure.
	ErrNotSupported = errors.New("document links not supported by server")

	// ErrServerNotReady indicates the server is not ready to handle requests.
	ErrServerNotReady = errors.New("server not ready")

	// ErrNoServer indicates no server is configured for the language.
	ErrNoServer = errors.New("no server configured for language")

	// ErrDocumentNotOpen indicates the document is not open.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrDocumentAlreadyOpen indicates the document is already open.
	ErrDocumentAlreadyOpen = errors.New("document already open")

	// ErrDocumentClosed indicates a discovery response arrived for a
	// document that was closed in the meantime.
	ErrDocumentClosed = errors.New("document closed before response arrived")

	// ErrStaleResponse indicates a discovery response was superseded by a
	// later request's commit.
	ErrStaleResponse = errors.New("response superseded by a newer commit")

	// ErrUnresolvedTarget indicates a link whose destination was never
	// filled in by the server.
	ErrUnresolvedTarget = errors.New("link target not resolved by server")

	// ErrLineOutOfRange indicates a link's line no longer exists in the
	// current document.
	ErrLineOutOfRange = errors.New("line no longer exists in document")

	// ErrMalformedTarget indicates a target string that parses as neither
	// a navigable location nor a valid resource identifier.
	ErrMalformedTarget = errors.New("malformed link target")

	// ErrShutdown indicates the transport has been shut down.
	ErrShutdown = errors.New("transport shut down")
)

// RPCError represents a JSON-RPC error from the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
)

// ServerError represents an error related to server lifecycle.
type ServerError struct {
	LanguageID string
	Err        error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s: %v", e.LanguageID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}
