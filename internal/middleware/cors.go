package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsHeaders = "Accept, Authorization, Content-Type"
)

// Origins is the set of browser origins allowed to reach the API and the
// room websocket. "*" allows any origin.
type Origins struct {
	any bool
	set map[string]bool
}

func NewOrigins(allowed []string) Origins {
	o := Origins{set: make(map[string]bool, len(allowed))}
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			o.any = true
		default:
			o.set[origin] = true
		}
	}
	return o
}

// Allowed reports whether a request carrying this Origin header may proceed.
func (o Origins) Allowed(origin string) bool {
	return origin != "" && (o.any || o.set[origin])
}

// CheckOrigin is the websocket upgrader's origin check. Requests without an
// Origin header come from non-browser clients and are accepted.
func (o Origins) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || o.Allowed(origin)
}

// CORS sets the cross-origin headers for allowed origins and answers
// preflight requests directly.
func (o Origins) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Add("Vary", "Origin")
		if origin := r.Header.Get("Origin"); o.Allowed(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
