package api

import (
	"net/http"
	"strings"
)

// NewRouter wires the gateway's routes. Claim subresources (audit, archive)
// are dispatched off the /v1/claims/ prefix.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.Health)

	mux.HandleFunc("/v1/tools/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		h.Tool(w, r)
	})

	mux.HandleFunc("/v1/claims/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/v1/claims/")
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		switch {
		case len(parts) == 1:
			h.Claim(w, r)
		case len(parts) == 2 && parts[1] == "audit":
			if !h.ensureAuth(w, r) {
				return
			}
			h.Audit(w, r, parts[0])
		case len(parts) == 2 && parts[1] == "archive":
			if !h.ensureAuth(w, r) {
				return
			}
			h.Archive(w, r, parts[0])
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		}
	})

	return mux
}
