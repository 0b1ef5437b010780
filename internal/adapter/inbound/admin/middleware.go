package admin

import (
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
)

// basicAuthMiddleware enforces HTTP basic auth on every admin route. Only
// the password is checked; the username is ignored, matching single-operator
// deployments. Comparison is constant-time.
func (h *Handler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, password, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="MCP Warden Admin"`)
			h.respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware tags each request with an X-Request-Id, preserving
// one supplied by the caller.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}
