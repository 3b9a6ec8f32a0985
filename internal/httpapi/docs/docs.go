// Package docs holds the hand-authored OpenAPI document this service
// serves when built with -tags=swagger. A generated docs.go from
// `swag init` would look much like this file; it is written by hand here
// because there is no swag toolchain invocation in this build.
package docs

import "github.com/swaggo/swag"

const doc = `{
    "swagger": "2.0",
    "info": {
        "title": "model-swapping-service",
        "description": "Reverse-proxying model multiplexer for local inference backends.",
        "version": "1.0"
    },
    "paths": {
        "/v1/models": {
            "get": {
                "summary": "List configured models",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/chat/completions": {
            "post": {
                "summary": "OpenAI-compatible chat completions, proxied to the resolved backend",
                "responses": {"200": {"description": "OK"}, "502": {"description": "Upstream error"}}
            }
        },
        "/running": {
            "get": {
                "summary": "List every backend process and its lifecycle state",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/unload/{model}": {
            "post": {
                "summary": "Force-evict a model's backend process",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/logs/stream": {
            "get": {
                "summary": "Server-Sent Events tail of lifecycle transitions",
                "responses": {"200": {"description": "OK"}}
            }
        }
    }
}`

// SwaggerInfo mirrors the struct swag's generator emits, so this package
// can be registered as a swag.Spec exactly like generated output.
var SwaggerInfo = &swag.Spec{
	Version:     "1.0",
	Host:        "",
	BasePath:    "/",
	Schemes:     []string{},
	Title:       "model-swapping-service",
	Description: "Reverse-proxying model multiplexer for local inference backends.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  doc,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
