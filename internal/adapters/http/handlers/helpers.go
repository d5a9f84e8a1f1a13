package handlers

import (
	"encoding/json"
	"net/http"
)

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error string `json:"error"`
}

// respondError writes the uniform error shape of this surface.
func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, errorBody{Error: message}, status)
}

// decodeJSON decodes a JSON request body with a 1 MB size bound.
func decodeJSON[T any](r *http.Request, w http.ResponseWriter) (*T, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)

	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}
