//go:build swagger

package httpapi

import (
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/go-chi/chi/v5"

	_ "github.com/gpubuilders/model-swapping-service/internal/httpapi/docs"
)

// MountSwagger serves the generated OpenAPI document and Swagger UI at
// /docs/*. Built only with -tags=swagger, matching the ancestor's
// opt-in-by-build-tag pattern for this dependency.
func MountSwagger(r chi.Router) {
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
