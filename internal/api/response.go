package api

import (
	"encoding/json"
	"net/http"

	"github.com/echoclone/echoclone-go/internal/schema"
)

// AudioContentType is served for every clip.
const AudioContentType = "audio/wav"

// WriteError writes an error response as {"detail": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(schema.ErrorResponse{Detail: message})
}

// WriteJSON writes the data structure as JSON.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
