package handler

import (
	"net/http"

	"github.com/aegisx/aegisx/internal/apikey"
	"github.com/aegisx/aegisx/internal/server/middleware"
)

type whoamiResponse struct {
	Type      string         `json:"type"`
	KeyPrefix string         `json:"key_prefix,omitempty"`
	Label     string         `json:"label,omitempty"`
	Scopes    []apikey.Scope `json:"scopes,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Admin     bool           `json:"admin"`
}

// WhoAmI describes the authenticated caller.
// GET /api/v1/whoami
func WhoAmI(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, whoamiResponse{
		Type:      p.Type,
		KeyPrefix: p.KeyPrefix,
		Label:     p.Label,
		Scopes:    p.Scopes,
		Subject:   p.Subject,
		Admin:     p.IsAdmin,
	})
}

// Authorize answers whether the caller's scopes grant an action on a
// resource: 200 when granted, 403 otherwise.
// GET /api/v1/authorize?resource=users&action=read
func Authorize(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	resource := r.URL.Query().Get("resource")
	action := r.URL.Query().Get("action")
	if resource == "" || action == "" {
		writeError(w, http.StatusBadRequest, "resource and action query parameters are required")
		return
	}

	if err := p.Authorize(resource, action); err != nil {
		writeCredentialError(w, http.StatusForbidden, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":  true,
		"resource": resource,
		"action":   action,
	})
}
