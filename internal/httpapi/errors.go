package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gpubuilders/model-swapping-service/internal/apierr"
	"github.com/gpubuilders/model-swapping-service/pkg/types"
)

// HTTPError lets any error carry its own HTTP status, per §7's typed
// error to status mapping.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload, mapping apierr
// kinds to their §7 status when err is one, and 500 otherwise.
func writeJSONError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var resp types.ErrorResponse
	resp.Error.Message = err.Error()
	if apiErr, ok := err.(*apierr.Error); ok {
		status = apiErr.StatusCode()
		resp.Error.Kind = string(apiErr.Kind)
		resp.Error.Model = apiErr.Model
	} else if he, ok := err.(HTTPError); ok {
		status = he.StatusCode()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
