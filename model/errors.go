package model

import "errors"

var (
	ErrNameCollision  = errors.New("name already in use")
	ErrUnknownTarget  = errors.New("unknown target")
	ErrEmptyMessage   = errors.New("empty message")
	ErrInvalidName    = errors.New("invalid name")
	ErrAuthFailed     = errors.New("invalid credentials")
	ErrBanned         = errors.New("name is banned")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrKicked         = errors.New("kicked by operator")
	ErrShutdown       = errors.New("server shutting down")
	ErrNotConnected   = errors.New("not connected")
	ErrMessageTooLong = errors.New("message too long")
)

// ErrorCode identifies a failure on the wire.
type ErrorCode string

const (
	CodeNameCollision  ErrorCode = "name_collision"
	CodeInvalidName    ErrorCode = "invalid_name"
	CodeAuthFailed     ErrorCode = "auth_failed"
	CodeBanned         ErrorCode = "banned"
	CodeUnknownTarget  ErrorCode = "unknown_target"
	CodeEmptyMessage   ErrorCode = "empty_message"
	CodeMalformedFrame ErrorCode = "malformed_frame"
	CodeKicked         ErrorCode = "kicked"
	CodeShutdown       ErrorCode = "shutdown"
)

var codeErrors = map[ErrorCode]error{
	CodeNameCollision:  ErrNameCollision,
	CodeInvalidName:    ErrInvalidName,
	CodeAuthFailed:     ErrAuthFailed,
	CodeBanned:         ErrBanned,
	CodeUnknownTarget:  ErrUnknownTarget,
	CodeEmptyMessage:   ErrEmptyMessage,
	CodeMalformedFrame: ErrMalformedFrame,
	CodeKicked:         ErrKicked,
	CodeShutdown:       ErrShutdown,
}

// Err returns the sentinel error for the code, or nil if the code is unknown.
func (c ErrorCode) Err() error {
	return codeErrors[c]
}

// CodeOf returns the wire code for err, matching sentinels with errors.Is.
// Unknown errors map to CodeMalformedFrame.
func CodeOf(err error) ErrorCode {
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeMalformedFrame
}
