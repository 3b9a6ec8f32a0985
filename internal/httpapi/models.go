package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/gpubuilders/model-swapping-service/pkg/types"
)

// handleListModels backs GET /v1/models: every configured model that
// isn't marked unlisted, in id order, in the OpenAI /v1/models envelope
// shape.
func (api *API) handleListModels(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0, len(api.Config.Models))
	for id, mdl := range api.Config.Models {
		if mdl.Unlisted {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	resp := types.ModelsResponse{Object: "list"}
	for _, id := range ids {
		resp.Data = append(resp.Data, types.ModelInfo{
			ID:      id,
			Object:  "model",
			OwnedBy: "local",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
