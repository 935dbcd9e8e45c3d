// Package httpapi exposes the extraction pipeline over a small JSON API:
// create a job, poll its status, probe liveness.
package httpapi

import "net/http"

// RouterDependencies bundles everything the router needs.
type RouterDependencies struct {
	API            *API
	AuthToken      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter assembles the mux and the middleware chain. Order matters:
// RequestID runs first so every later layer can tag its output.
func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/extractions", deps.API.CreateExtraction)
	mux.HandleFunc("/v1/extractions/", deps.API.ExtractionStatus)

	handler := http.Handler(mux)
	handler = Auth(deps.AuthToken)(handler)
	handler = RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = RequestID(handler)

	return handler
}
