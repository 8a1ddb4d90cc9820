package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker maps a check name (for example "db") to its check function. Each check
// reports "ok" or "fail" under its name in the response.
type Checker map[string]func(ctx context.Context) error

// Handler serves the /healthz JSON body. Any failing check turns the
// response into 503.
func Handler(checker Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK

		for name, check := range checker {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				status[name] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status[name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}

// Serve starts a minimal /healthz handler.
func Serve(addr string, checker Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", Handler(checker))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the health server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
