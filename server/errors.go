package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/reconcile"
)

// APIError is the standard error response for reconciler APIs.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, code int, errMsg, codeStr string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(APIError{
		Error:   errMsg,
		Code:    codeStr,
		Message: errMsg,
	})
}

// apiError maps a reconcile or platform error to an HTTP status and body.
func apiError(err error) (int, APIError) {
	var (
		ve *reconcile.ValidationError
		re *reconcile.RejectedError
		ne *reconcile.NetworkError
		ue *reconcile.UnknownStatusError
		se *platform.StatusError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, APIError{Error: err.Error(), Code: "VALIDATION_FAILED", Message: ve.Reason, Field: ve.Field}
	case errors.As(err, &re):
		return http.StatusUnprocessableEntity, APIError{Error: err.Error(), Code: "SUBMISSION_REJECTED", Message: re.Message}
	case errors.Is(err, reconcile.ErrSessionClosed):
		return http.StatusConflict, APIError{Error: err.Error(), Code: "SESSION_CLOSED"}
	case errors.As(err, &ue):
		return http.StatusBadGateway, APIError{Error: err.Error(), Code: "UNKNOWN_STATUS"}
	case errors.Is(err, platform.ErrUnauthorized):
		return http.StatusUnauthorized, APIError{Error: err.Error(), Code: "UNAUTHORIZED"}
	case errors.As(err, &ne):
		return http.StatusBadGateway, APIError{Error: err.Error(), Code: "PLATFORM_UNAVAILABLE"}
	case errors.As(err, &se):
		if se.StatusCode == http.StatusNotFound {
			return http.StatusNotFound, APIError{Error: err.Error(), Code: "PAYMENT_NOT_FOUND", Message: se.Message}
		}
		if se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden {
			return se.StatusCode, APIError{Error: err.Error(), Code: "UNAUTHORIZED", Message: se.Message}
		}
		return http.StatusBadGateway, APIError{Error: err.Error(), Code: "PLATFORM_ERROR", Message: se.Message}
	}
	return http.StatusInternalServerError, APIError{Error: err.Error(), Code: "INTERNAL"}
}

func writeErr(w http.ResponseWriter, err error) {
	code, body := apiError(err)
	if body.Message == "" {
		body.Message = body.Error
	}
	writeJSON(w, code, body)
}
