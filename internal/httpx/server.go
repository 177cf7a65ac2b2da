package httpx

import "net/http"

func NewMux(e Env) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", e.Healthz)
	mux.HandleFunc("/readyz", e.Readyz)
	mux.HandleFunc("/s/", e.Screen)
	mux.HandleFunc("/collect", e.Collect)
	mux.HandleFunc("/challenge", e.NewChallenge)
	mux.HandleFunc("/challenge/verify", e.VerifyChallenge)

	// Apply CORS, metrics, and request logging middleware
	return RequestLogger(MetricsMiddleware(e.Metrics)(cors(mux)))
}
