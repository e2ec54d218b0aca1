// Package httpapi implements the HTTP dispatcher that sits in front of
// the route table: parse the request, match a route, run its handler,
// negotiate the response MIME type, and stream or write the result.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/snarg/mtc-agent/internal/buffer"
	"github.com/snarg/mtc-agent/internal/model"
	"github.com/snarg/mtc-agent/internal/route"
)

// ErrorCode is the machine-readable error code carried in an envelope,
// per spec §7's error taxonomy.
type ErrorCode string

const (
	CodeOutOfRange      ErrorCode = "OUT_OF_RANGE"
	CodeInvalidRequest  ErrorCode = "INVALID_REQUEST"
	CodeUnknownDevice   ErrorCode = "UNKNOWN_DEVICE"
	CodeUnknownDataItem ErrorCode = "UNKNOWN_DATA_ITEM"
	CodeInternalError   ErrorCode = "INTERNAL_ERROR"
	CodeNotFound        ErrorCode = "NOT_FOUND"
)

// ErrorEnvelope is the body rendered for any handler or dispatch error:
// errorCode, a human message, and an echo of the request that failed.
type ErrorEnvelope struct {
	ErrorCode ErrorCode `json:"errorCode" xml:"errorCode"`
	Value     string    `json:"value" xml:"value"`
	Path      string    `json:"path" xml:"path"`
}

// statusFor maps an error to its HTTP status and error code, per spec §7.
func statusFor(err error) (int, ErrorCode) {
	switch {
	case errors.Is(err, buffer.ErrOutOfRange):
		return http.StatusNotFound, CodeOutOfRange
	case errors.Is(err, model.ErrUnknownDevice):
		return http.StatusNotFound, CodeUnknownDevice
	case errors.Is(err, model.ErrUnknownDataItem):
		return http.StatusNotFound, CodeUnknownDataItem
	default:
		var perr *route.ParameterError
		if errors.As(err, &perr) {
			return http.StatusBadRequest, CodeInvalidRequest
		}
		return http.StatusInternalServerError, CodeInternalError
	}
}
