package web

import (
	"errors"
	"net/http"

	"github.com/mbocsi/gotadek/client"
	"github.com/mbocsi/gotadek/proto"
	"github.com/mbocsi/gotadek/registry"
	"github.com/mbocsi/gotadek/transport"
)

// ServiceError is the error body returned by the API.
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error {
	return e.Cause
}

const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeNotConnected = "NOT_CONNECTED"
	ErrCodeNoResponse   = "NO_RESPONSE"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// classify maps errors of the device layer to service errors.
func classify(err error) ServiceError {
	var se ServiceError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return ServiceError{Code: ErrCodeNotFound, Message: "Device not found", Cause: err}
	case errors.Is(err, registry.ErrNameInUse):
		return ServiceError{Code: ErrCodeConflict, Message: "Device name already in use", Cause: err}
	case errors.Is(err, client.ErrNoResponse):
		return ServiceError{Code: ErrCodeNoResponse, Message: "No response available", Cause: err}
	case errors.Is(err, proto.ErrUnknownOperation):
		return ServiceError{Code: ErrCodeInvalidInput, Message: "Unknown operation", Cause: err}
	case transport.IsConnectionError(err):
		return ServiceError{Code: ErrCodeNotConnected, Message: "Device connection failed", Cause: err}
	}
	return ServiceError{Code: ErrCodeInternal, Message: "Internal server error", Cause: err}
}

func (se ServiceError) status() int {
	switch se.Code {
	case ErrCodeNotFound, ErrCodeNoResponse:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeNotConnected:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
