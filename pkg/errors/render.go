package errors

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// Response is the JSON body written for every failed request
type Response struct {
	Status  string                 `json:"status"`
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ToResponse converts any error into the response body. Errors without a code are
// reported as INTERNAL_ERROR with a generic message so internals are not leaked.
func ToResponse(err error) Response {
	var e *Error
	if errors.As(err, &e) {
		return Response{Status: "error", Code: e.Code, Message: e.Message, Details: e.Details}
	}
	return Response{Status: "error", Code: ErrCodeInternal, Message: "internal server error"}
}

// Render writes err with the status mapped from its code
func Render(w http.ResponseWriter, r *http.Request, err error) {
	render.Status(r, HTTPStatus(err))
	render.JSON(w, r, ToResponse(err))
}
