package middleware

import (
	"encoding/json"
	"net/http"

	"pgrest/internal/apierror"
)

// writeError writes err as a JSON error body with its mapped status.
func writeError(w http.ResponseWriter, err error) {
	status, body := apierror.Describe(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
