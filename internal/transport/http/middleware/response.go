package middleware

import (
	"encoding/json"
	"net/http"
)

// writeJSONError writes an error in the callable error shape so clients parse one format.
func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"status": code, "message": msg},
	})
}
