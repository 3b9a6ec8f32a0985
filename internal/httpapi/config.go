package httpapi

// maxBodyBytes bounds the request body read when peeking the "model"
// field off an OpenAI-style JSON request (§10).
var maxBodyBytes int64 = 10 << 20

// SetMaxBodyBytes overrides the default 10 MiB body cap.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 10 << 20
		return
	}
	maxBodyBytes = n
}

// CORS configuration, genuinely wired into the middleware chain by
// NewMux (see server.go) unlike the config-only surface this pattern is
// modelled on.
var (
	corsEnabled        bool
	corsAllowedOrigins = []string{"*"}
	corsAllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsAllowedHeaders = []string{"*"}
)

// SetCORSOptions configures the CORS middleware NewMux installs.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	if len(origins) > 0 {
		corsAllowedOrigins = append([]string(nil), origins...)
	}
	if len(methods) > 0 {
		corsAllowedMethods = append([]string(nil), methods...)
	}
	if len(headers) > 0 {
		corsAllowedHeaders = append([]string(nil), headers...)
	}
}
