package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mark3labs/openapi2docx/internal/docx"
	"github.com/mark3labs/openapi2docx/internal/spec"
)

// ErrorCode is the machine-readable code in an error response.
type ErrorCode string

const (
	CodeInvalidArgument  ErrorCode = "invalid_argument"
	CodeInvalidSpec      ErrorCode = "invalid_spec"
	CodePayloadTooLarge  ErrorCode = "payload_too_large"
	CodeNotFound         ErrorCode = "not_found"
	CodeMethodNotAllowed ErrorCode = "method_not_allowed"
	CodeUpstream         ErrorCode = "upstream_unavailable"
	CodeDeadlineExceeded ErrorCode = "deadline_exceeded"
	CodeCanceled         ErrorCode = "canceled"
	CodeInternal         ErrorCode = "internal"
)

// Error is the JSON error envelope.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HTTPCodedError is used to provide the HTTP status code.
type HTTPCodedError interface {
	error
	Code() int
}

func CodedError(c int, s string) HTTPCodedError {
	return &codedError{s, c}
}

type codedError struct {
	s    string
	code int
}

func (e *codedError) Error() string { return e.s }
func (e *codedError) Code() int     { return e.code }

func codeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return CodeInvalidArgument
	case http.StatusRequestEntityTooLarge:
		return CodePayloadTooLarge
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusMethodNotAllowed:
		return CodeMethodNotAllowed
	}
	return CodeInternal
}

// toEnvelope maps err onto an HTTP status and error body.
func toEnvelope(err error) (int, *Error) {
	var coded HTTPCodedError
	if errors.As(err, &coded) {
		return coded.Code(), &Error{Code: codeForStatus(coded.Code()), Message: coded.Error()}
	}

	var se *spec.SpecError
	if errors.As(err, &se) {
		details := map[string]any{"kind": string(se.Code)}
		if se.JSONPointer != "" {
			details["pointer"] = se.JSONPointer
		}
		if se.Code == spec.NetworkError {
			return http.StatusBadGateway, &Error{Code: CodeUpstream, Message: se.Message, Details: details}
		}
		return http.StatusBadRequest, &Error{Code: CodeInvalidSpec, Message: se.Message, Details: details}
	}

	var ves validator.ValidationErrors
	if errors.As(err, &ves) {
		details := make(map[string]any, len(ves))
		messages := make([]string, 0, len(ves))
		for _, fe := range ves {
			msg := "must satisfy " + fe.Tag()
			if fe.Param() != "" {
				msg += "=" + fe.Param()
			}
			details[fe.Field()] = msg
			messages = append(messages, fe.Field()+": "+msg)
		}
		return http.StatusBadRequest, &Error{Code: CodeInvalidArgument, Message: strings.Join(messages, "; "), Details: details}
	}

	var ce *docx.ConversionError
	if errors.As(err, &ce) {
		return http.StatusInternalServerError, &Error{
			Code:    CodeInternal,
			Message: "document conversion failed",
			Details: map[string]any{"line": ce.Line, "reason": ce.Message},
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, &Error{Code: CodeDeadlineExceeded, Message: "request timeout"}
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, &Error{Code: CodeCanceled, Message: "request canceled"}
	}
	return http.StatusInternalServerError, &Error{Code: CodeInternal, Message: err.Error()}
}
