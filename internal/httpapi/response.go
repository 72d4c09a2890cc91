package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sells-group/address-harvest/internal/harvest"
)

// writeJSON renders v as a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the standard error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// validationMessage strips the sentinel suffix from a wrapped validation
// error, leaving just the user-facing message.
func validationMessage(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+harvest.ErrInvalidRequest.Error())
}
