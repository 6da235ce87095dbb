package observability

import (
	"context"
	"encoding/json"
	"net/http"
)

// healthBody is the JSON body of the /healthz and /readyz endpoints.
type healthBody struct {
	Status string `json:"status"`
}

// ReadyCheck verifies one dependency of the diagnostics surface. A nil
// return means the dependency can serve; the run repository's Ping is
// the usual check.
type ReadyCheck func(ctx context.Context) error

// HealthHandler serves liveness at /healthz. Liveness only asserts the
// process is up, so the answer is always 200 {"status":"ok"}.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		respondHealth(rw, http.StatusOK)
	})
}

// ReadyHandler serves readiness at /readyz by running every check
// against the request context. The first failing check turns the answer
// into 503 {"status":"unavailable"}; with no checks the endpoint always
// reports ready.
func ReadyHandler(checks ...ReadyCheck) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		for _, check := range checks {
			err := check(hr.Context())
			if err != nil {
				respondHealth(rw, http.StatusServiceUnavailable)

				return
			}
		}

		respondHealth(rw, http.StatusOK)
	})
}

// respondHealth derives the body status from the HTTP code and writes both.
func respondHealth(rw http.ResponseWriter, code int) {
	body := healthBody{Status: "ok"}
	if code != http.StatusOK {
		body.Status = "unavailable"
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)

	_ = json.NewEncoder(rw).Encode(body) //nolint:errcheck // best-effort response body
}
