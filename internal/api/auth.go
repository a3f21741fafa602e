// Package api implements the HTTP and websocket surface of the wastenav
// service.
package api

import (
	"net/http"
	"strings"

	"wastenav/internal/auth"
)

// principal extracts the caller identity from the request.
// - If Authorization: Bearer is present, uses the configured verifier.
// - Else falls back to headers for dev.
func (s *Server) principal(r *http.Request) (auth.Principal, error) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		return s.Auth.Verify(tok)
	}
	if tok := r.URL.Query().Get("token"); tok != "" && s.Auth != nil {
		return s.Auth.Verify(tok)
	}
	uid := r.Header.Get("X-User-Id")
	if uid == "" {
		return auth.Principal{}, auth.ErrAuthentication
	}
	role := strings.ToLower(r.Header.Get("X-Role"))
	if role == "" {
		role = "resident"
	}
	return auth.Principal{UserID: uid, Role: role, Ward: r.Header.Get("X-Ward")}, nil
}

// IsAdmin reports whether the principal has the admin role.
func isAdmin(p auth.Principal) bool { return p.Role == "admin" }
