package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type Code int

const (
	Internal      Code = http.StatusInternalServerError
	NotFound      Code = http.StatusNotFound
	Forbidden     Code = http.StatusForbidden
	Validation    Code = http.StatusBadRequest
	Unauthorized  Code = http.StatusUnauthorized
	Conflict      Code = http.StatusConflict
	Configuration Code = http.StatusPreconditionFailed
)

// Error is a custom error
type Error struct {
	Code     Code     `json:"code"`
	Reason   string   `json:"reason,omitempty"`
	Messages []string `json:"messages"`
	Err      error    `json:"err,omitempty"`
}

// Error returns the Error as a json string
func (e *Error) Error() string {
	if e.Code == 0 {
		e.Code = http.StatusOK
	}
	bits, _ := json.Marshal(e.RemoveError())
	return string(bits)
}

// Unwrap returns the underlying error if one exists
func (e *Error) Unwrap() error {
	return e.Err
}

// RemoveError removes the error from the Error and leaves it's messages, reason and code
func (e *Error) RemoveError() *Error {
	return &Error{
		Code:     e.Code,
		Reason:   e.Reason,
		Messages: e.Messages,
		Err:      nil,
	}
}

// Extract extracts the custom Error from the given error
func Extract(err error) *Error {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if !ok {
		return &Error{
			Code:     0,
			Messages: nil,
			Err:      err,
		}
	}
	return e
}

// Is returns true if the error is a custom Error with the given code
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}

// New creates a new error with the given code
func New(code Code, msg string, args ...any) error {
	return &Error{
		Code:     code,
		Messages: []string{fmt.Sprintf(msg, args...)},
	}
}

// NewReason creates a new error with the given code and a machine readable reason
func NewReason(code Code, reason string, msg string, args ...any) error {
	return &Error{
		Code:     code,
		Reason:   reason,
		Messages: []string{fmt.Sprintf(msg, args...)},
	}
}

// Wrap wraps the given error and returns a new one. A nil error returns nil.
func Wrap(err error, code Code, msg string, args ...any) error {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if ok {
		if msg != "" {
			e.Messages = append(e.Messages, fmt.Sprintf(msg, args...))
		}
		if code > 0 {
			e.Code = code
		}
		return e
	}
	e = &Error{
		Code: code,
		Err:  err,
	}
	if msg != "" {
		e.Messages = append(e.Messages, fmt.Sprintf(msg, args...))
	}
	return e
}
