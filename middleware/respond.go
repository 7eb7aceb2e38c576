package middleware

import (
	"encoding/json"
	"net/http"
)

// Error codes written in the JSON body of rejected requests.
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeTokenRevoked       = "TOKEN_REVOKED"
	CodeIPBlocked          = "IP_BLOCKED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: code, Message: message})
}
