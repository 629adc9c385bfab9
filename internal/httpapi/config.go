package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
)

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes sets the request body limit; non-positive restores 1 MiB.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// generateTimeout bounds one generation request. Zero means no additional
// timeout beyond server/connection timeouts.
var generateTimeout time.Duration

// SetGenerateTimeout sets the per-request generation timeout (0 disables).
func SetGenerateTimeout(d time.Duration) {
	generateTimeout = max(d, 0)
}

// CORSOptions configures the opt-in CORS middleware.
type CORSOptions struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

var corsOptions CORSOptions

// SetCORSOptions configures CORS behavior for the HTTP server. If disabled,
// no CORS middleware is added.
func SetCORSOptions(o CORSOptions) {
	o.AllowedOrigins = append([]string(nil), o.AllowedOrigins...)
	o.AllowedMethods = append([]string(nil), o.AllowedMethods...)
	o.AllowedHeaders = append([]string(nil), o.AllowedHeaders...)
	corsOptions = o
}

// corsMiddleware returns nil when CORS is disabled.
func corsMiddleware() func(http.Handler) http.Handler {
	if !corsOptions.Enabled {
		return nil
	}
	o := cors.Options{
		AllowedOrigins: corsOptions.AllowedOrigins,
		AllowedMethods: corsOptions.AllowedMethods,
		AllowedHeaders: corsOptions.AllowedHeaders,
		MaxAge:         corsOptions.MaxAge,
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"*"}
	}
	if len(o.AllowedMethods) == 0 {
		o.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	if len(o.AllowedHeaders) == 0 {
		o.AllowedHeaders = []string{"Content-Type", "X-Log-Level", "X-Request-Id"}
	}
	return cors.Handler(o)
}
