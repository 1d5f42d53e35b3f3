package server

import (
	"errors"
	"net/http"
	"strings"
)

const adminPathPrefix = "/v1/admin/"

// withAuth enforces the bearer API token on every route but /health, and
// the admin token on /v1/admin/ routes. Either check is off when its token
// is unset.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		if s.apiToken.Enabled() && !s.apiToken.Verify(bearerToken(r)) {
			s.writeErrorReq(w, r, http.StatusUnauthorized, makeAPIError(http.StatusUnauthorized, "unauthorized", ErrCodeUnauthorized, errors.New("missing or invalid api token")))
			return
		}

		if s.adminToken.Enabled() && strings.HasPrefix(r.URL.Path, adminPathPrefix) {
			if !s.adminToken.Verify(strings.TrimSpace(r.Header.Get("X-Admin-Token"))) {
				s.writeErrorReq(w, r, http.StatusForbidden, makeAPIError(http.StatusForbidden, "forbidden", ErrCodeForbidden, errors.New("admin token required")))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
