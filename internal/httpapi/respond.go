package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// writeValidationError reports struct tag failures per field.
func writeValidationError(w http.ResponseWriter, err error) {
	body := errorBody{Error: "invalid_request", Message: "request failed validation"}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		body.Details = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			body.Details[fe.Field()] = fmt.Sprintf("failed on '%s'", fe.Tag())
		}
	}
	writeJSON(w, http.StatusBadRequest, body)
}
