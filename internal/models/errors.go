package models

import "net/http"

type ErrorKind string

const (
	KindMissingInput     ErrorKind = "MissingInput"
	KindInvalidImage     ErrorKind = "InvalidImage"
	KindModelUnavailable ErrorKind = "ModelUnavailable"
	KindInferenceFailed  ErrorKind = "InferenceFailed"
)

const MissingImageMessage = "No image file provided"

var statusByKind = map[ErrorKind]int{
	KindMissingInput:     http.StatusBadRequest,
	KindInvalidImage:     http.StatusInternalServerError,
	KindModelUnavailable: http.StatusInternalServerError,
	KindInferenceFailed:  http.StatusInternalServerError,
}

// Kinds lists every error kind the service produces.
func Kinds() []ErrorKind {
	return []ErrorKind{KindMissingInput, KindInvalidImage, KindModelUnavailable, KindInferenceFailed}
}

// APIError is the single failure type returned across the request boundary.
type APIError struct {
	Kind    ErrorKind
	Message string
}

// NewAPIError builds an APIError carrying err's message. MissingInput always
// uses MissingImageMessage.
func NewAPIError(kind ErrorKind, err error) *APIError {
	if kind == KindMissingInput {
		return &APIError{Kind: kind, Message: MissingImageMessage}
	}
	msg := http.StatusText(http.StatusInternalServerError)
	if err != nil {
		msg = err.Error()
	}
	return &APIError{Kind: kind, Message: msg}
}

func (e *APIError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Status returns the HTTP status for the error kind. Unknown kinds are 500.
func (e *APIError) Status() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (e *APIError) Response() ErrorResponse {
	return ErrorResponse{Error: e.Message}
}
