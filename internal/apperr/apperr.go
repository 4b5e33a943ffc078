// Package apperr defines the error taxonomy shared across the processing
// core and its HTTP adapters.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and HTTP-status decisions. It is not a
// type hierarchy — callers switch on Kind, never on the concrete error type.
type Kind string

const (
	KindTransient   Kind = "transient"    // ConnectFailed, TLS handshake, read/write timeout
	KindAuth        Kind = "auth"         // AuthFailed
	KindProtocol    Kind = "protocol"     // ProtocolError, ServerIncompatible, FolderNotFound, FolderAccessDenied
	KindSideEffect  Kind = "side_effect"  // mark/delete/move failure
	KindStore       Kind = "store"        // StoreUnavailable, NotFound, IntegrityViolation
	KindConfig      Kind = "config"       // startup validation failure
	KindNotFound    Kind = "not_found"
	KindBadRequest  Kind = "bad_request"
)

// Error wraps an underlying cause with a Kind and optional structured detail.
type Error struct {
	Kind   Kind
	Msg    string
	Detail map[string]any
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func WithDetail(kind Kind, msg string, detail map[string]any) *Error {
	return &Error{Kind: kind, Msg: msg, Detail: detail}
}

// KindOf extracts the Kind of err, defaulting to KindTransient for errors
// that did not originate in this package.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindTransient
}

// Sentinel errors for conditions callers commonly test for directly.
var (
	ErrNotFound           = New(KindNotFound, "not found")
	ErrStoreUnavailable   = New(KindStore, "store unavailable")
	ErrIntegrityViolation = New(KindStore, "integrity violation")
	ErrServerIncompatible = New(KindProtocol, "server incompatible")
)
