package types

import (
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Class   string `json:"class,omitempty"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// FaultResponse maps an instrument error to an HTTP status and payload.
// prefix is the resource part of the code, e.g. "RECIPE" or "DEVICE".
func FaultResponse(prefix, message string, err error) (int, ErrorResponse) {
	class := faults.Class(err)

	status := http.StatusInternalServerError
	switch class {
	case "configuration":
		status = http.StatusUnprocessableEntity
	case "transport", "protocol", "device":
		status = http.StatusBadGateway
	case "timeout":
		status = http.StatusGatewayTimeout
	}

	resp := NewErrorResponse(prefix+"_"+strconv.Itoa(status), message, err.Error())
	resp.Error.Class = class
	return status, resp
}
