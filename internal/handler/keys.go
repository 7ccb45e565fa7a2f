package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aegisx/aegisx/internal/apikey"
	"github.com/aegisx/aegisx/internal/config"
	"github.com/aegisx/aegisx/internal/expiry"
	"github.com/aegisx/aegisx/internal/model"
	"github.com/aegisx/aegisx/internal/service"
)

// KeyHandler manages API keys over the admin API.
type KeyHandler struct {
	store   *config.Store
	authSvc *service.AuthService
	clock   expiry.Clock
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(store *config.Store, authSvc *service.AuthService) *KeyHandler {
	return &KeyHandler{
		store:   store,
		authSvc: authSvc,
		clock:   expiry.SystemClock,
	}
}

// apiKeyView is a stored key plus its derived status.
type apiKeyView struct {
	model.APIKey
	Status string `json:"status"`
}

// ListAPIKeys returns every issued key without hashes. With ?active=true
// revoked and expired keys are left out.
// GET /api/v1/system/api-key
func (h *KeyHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list API keys: "+err.Error())
		return
	}

	activeOnly := queryBool(r, "active")
	now := h.clock()
	views := make([]apiKeyView, 0, len(keys))
	for _, k := range keys {
		status := k.Status(now)
		if activeOnly && status != "active" {
			continue
		}
		views = append(views, apiKeyView{APIKey: k, Status: status})
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: views,
		Meta:     &model.ResponseMeta{Count: len(views)},
	})
}

// createKeyRequest is the payload for CreateAPIKey. Scopes accepts both the
// canonical list and the legacy resource-to-actions object.
type createKeyRequest struct {
	Label  string           `json:"label"`
	Scopes apikey.ScopeSpec `json:"scopes"`
	TTL    string           `json:"ttl,omitempty"`
}

// createKeyResponse carries the full key. It is the only time the key is
// ever returned.
type createKeyResponse struct {
	Key       string         `json:"key"`
	KeyPrefix string         `json:"key_prefix"`
	Preview   string         `json:"preview"`
	Label     string         `json:"label"`
	Scopes    []apikey.Scope `json:"scopes"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreateAPIKey issues a new key.
// POST /api/v1/system/api-key
func (h *KeyHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "Invalid ttl: expected a positive duration such as 720h")
			return
		}
		ttl = d
	}

	issued, err := h.authSvc.IssueAPIKey(r.Context(), service.IssueRequest{
		Label:  req.Label,
		Scopes: req.Scopes.Normalize(),
		TTL:    ttl,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidScope) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create API key: "+err.Error())
		return
	}

	rec := issued.Record
	writeJSON(w, http.StatusCreated, createKeyResponse{
		Key:       issued.Credential.FullSecret,
		KeyPrefix: rec.KeyPrefix,
		Preview:   rec.Preview,
		Label:     rec.Label,
		Scopes:    rec.Scopes,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
	})
}

// RevokeAPIKey revokes the key with the given prefix.
// DELETE /api/v1/system/api-key/{prefix}
func (h *KeyHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "prefix")
	if err := h.store.RevokeAPIKeyByPrefix(r.Context(), prefix); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No active API key with prefix "+prefix)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to revoke API key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"key_prefix": prefix,
	})
}
