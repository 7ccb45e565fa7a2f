package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aegisx/aegisx/internal/apikey"
	"github.com/aegisx/aegisx/internal/credential"
	"github.com/aegisx/aegisx/internal/model"
	"github.com/aegisx/aegisx/internal/service"
)

// APIKeyHeader carries API keys on requests.
const APIKeyHeader = "X-API-Key"

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Verifier authenticates credentials. *service.AuthService implements it.
type Verifier interface {
	VerifyAPIKey(ctx context.Context, rawKey string) (*service.APIKeyPrincipal, error)
	ValidateJWT(ctx context.Context, token string) (*service.JWTPrincipal, error)
}

// Principal represents the authenticated identity making the request.
type Principal struct {
	Type      string // "admin" or "api_key"
	KeyID     int64
	KeyPrefix string
	Label     string
	Scopes    []apikey.Scope
	Subject   string
	IsAdmin   bool
}

// Authorize reports whether p may perform action on resource. Admins pass
// every check; API keys need a matching scope.
func (p *Principal) Authorize(resource, action string) error {
	if p.IsAdmin || apikey.Authorize(p.Scopes, resource, action) {
		return nil
	}
	return fmt.Errorf("%w: %s on %s", credential.ErrInsufficientScope, action, resource)
}

// Authenticate returns an HTTP middleware that validates the request's
// authentication credentials. It supports two methods:
//
//  1. API key via the X-API-Key header (for programmatic clients)
//  2. JWT Bearer token via the Authorization header (for admins)
//
// On success, a Principal is attached to the request context. On failure,
// a 401 JSON error response is returned. m may be nil.
func Authenticate(auth Verifier, m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *Principal

			if rawKey := r.Header.Get(APIKeyHeader); rawKey != "" {
				start := time.Now()
				p, err := auth.VerifyAPIKey(r.Context(), rawKey)
				m.observeVerify(time.Since(start), err)
				if err != nil {
					writeCredentialError(w, http.StatusUnauthorized, apiKeyFailure(err))
					return
				}
				principal = &Principal{
					Type:      "api_key",
					KeyID:     p.KeyID,
					KeyPrefix: p.Prefix,
					Label:     p.Label,
					Scopes:    p.Scopes,
				}
			}

			if principal == nil {
				authHeader := r.Header.Get("Authorization")
				if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
					p, err := auth.ValidateJWT(r.Context(), token)
					m.observeAuth("jwt", err)
					if err != nil {
						writeAuthError(w, http.StatusUnauthorized, "invalid_token", err.Error(), "")
						return
					}
					principal = &Principal{
						Type:    "admin",
						Subject: p.Subject,
						IsAdmin: true,
					}
				}
			}

			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, "empty",
					"Authentication required. Provide X-API-Key header or Bearer token.", "")
				return
			}

			annotate(r.Context(), principal)
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// apiKeyFailure hides whether a prefix exists: an unknown key and a wrong
// secret produce the same response.
func apiKeyFailure(err error) error {
	if errors.Is(err, credential.ErrAbsent) || errors.Is(err, credential.ErrSecretMismatch) {
		return credential.ErrSecretMismatch
	}
	return err
}

// RequireAdmin returns an HTTP middleware that enforces admin-level access.
// It must be used after Authenticate in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "forbidden", "Admin access required", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeCredentialError(w http.ResponseWriter, status int, err error) {
	writeAuthError(w, status, credential.Code(err), err.Error(), credential.Remediation(err))
}

func writeAuthError(w http.ResponseWriter, status int, reason, message, remediation string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:        status,
			Reason:      reason,
			Message:     message,
			Remediation: remediation,
		},
	})
}
