// response.go — HTTP response utilities
package util

import (
	"encoding/json"
	"net/http"
)

// JSONResponse writes a JSON response with the given status code and data.
// Encode errors are swallowed: the status line and headers are already on
// the wire by the time Encode can fail.
func JSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
