package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aegisx/aegisx/internal/apikey"
	"github.com/aegisx/aegisx/internal/config"
	"github.com/aegisx/aegisx/internal/credential"
	"github.com/aegisx/aegisx/internal/expiry"
	"github.com/aegisx/aegisx/internal/model"
)

var (
	ErrInvalidToken = errors.New("invalid admin token")
	ErrTokenExpired = errors.New("admin token expired")
	ErrInvalidScope = errors.New("invalid scope")
)

// issueAttempts bounds retries when a freshly generated prefix is taken.
const issueAttempts = 3

// KeyStore is the persistence the auth service needs. *config.Store
// implements it.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*model.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id int64) error
}

// APIKeyPrincipal is the identity established by a verified API key.
type APIKeyPrincipal struct {
	KeyID  int64
	Prefix string
	Label  string
	Scopes []apikey.Scope
}

// JWTPrincipal is the identity carried by an admin token.
type JWTPrincipal struct {
	Subject string
}

// IssueRequest describes a new API key.
type IssueRequest struct {
	Label  string
	Scopes []apikey.Scope
	TTL    time.Duration // 0 means no expiry
}

// IssuedKey is the result of IssueAPIKey. Credential.FullSecret is the only
// copy of the key and must be shown to the caller once.
type IssuedKey struct {
	Credential *apikey.Credential
	Record     *model.APIKey
}

type AuthService struct {
	store     KeyStore
	hasher    *apikey.Hasher
	jwtSecret []byte
	clock     expiry.Clock
	logger    *slog.Logger

	decoyOnce sync.Once
	decoy     string
	wg        sync.WaitGroup
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithClock sets the time source used for expiry checks.
func WithClock(c expiry.Clock) Option {
	return func(s *AuthService) { s.clock = c }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *AuthService) { s.logger = l }
}

func NewAuthService(store KeyStore, hasher *apikey.Hasher, jwtSecret string, opts ...Option) *AuthService {
	s := &AuthService{
		store:     store,
		hasher:    hasher,
		jwtSecret: []byte(jwtSecret),
		clock:     expiry.SystemClock,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IssueAPIKey generates, hashes and persists a new key.
func (s *AuthService) IssueAPIKey(ctx context.Context, req IssueRequest) (*IssuedKey, error) {
	if err := ValidateScopes(req.Scopes); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		cred, err := s.hasher.Issue(ctx)
		if err != nil {
			return nil, fmt.Errorf("issue api key: %w", err)
		}
		rec := &model.APIKey{
			KeyHash:   cred.Hash,
			KeyPrefix: cred.Prefix,
			Preview:   cred.Preview,
			Label:     req.Label,
			Scopes:    model.Scopes(req.Scopes),
			ExpiresAt: expiry.After(s.clock(), req.TTL),
		}
		err = s.store.CreateAPIKey(ctx, rec)
		if err == nil {
			s.logger.Info("api key issued", "key", cred, "label", req.Label)
			return &IssuedKey{Credential: cred, Record: rec}, nil
		}
		if !errors.Is(err, config.ErrConflict) || attempt == issueAttempts {
			return nil, err
		}
		s.logger.Warn("api key prefix collision, retrying", "prefix", cred.Prefix, "attempt", attempt)
	}
}

// VerifyAPIKey authenticates a presented key. Failures are reported with the
// credential sentinels in evaluation order: format, absent, secret
// mismatch, revoked, expired.
func (s *AuthService) VerifyAPIKey(ctx context.Context, rawKey string) (*APIKeyPrincipal, error) {
	format := apikey.ValidateFormat(rawKey)
	if !format.Valid {
		return nil, format.Err
	}

	key, err := s.store.GetAPIKeyByPrefix(ctx, format.Prefix)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			// Spend the same bcrypt work as a real comparison so unknown
			// prefixes cannot be told apart by latency.
			s.hasher.Verify(ctx, rawKey, s.decoyHash())
			return nil, credential.ErrKeyAbsent
		}
		return nil, fmt.Errorf("look up api key: %w", err)
	}

	if !s.hasher.Verify(ctx, rawKey, key.KeyHash) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, credential.ErrSecretMismatch
	}
	if key.Revoked() {
		return nil, credential.ErrRevoked
	}
	now := s.clock()
	if expiry.IsExpired(key.ExpiresAt, now) {
		return nil, credential.ErrExpired
	}

	s.touch(key.ID)

	return &APIKeyPrincipal{
		KeyID:  key.ID,
		Prefix: key.KeyPrefix,
		Label:  key.Label,
		Scopes: key.Scopes,
	}, nil
}

// Authorize checks that principal's scopes grant action on resource.
func (s *AuthService) Authorize(p *APIKeyPrincipal, resource, action string) error {
	if p == nil || !apikey.Authorize(p.Scopes, resource, action) {
		return fmt.Errorf("%w: %s on %s", credential.ErrInsufficientScope, action, resource)
	}
	return nil
}

// Wait blocks until background last-used updates have finished.
func (s *AuthService) Wait() { s.wg.Wait() }

// touch records key use without holding up the request.
func (s *AuthService) touch(id int64) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.UpdateAPIKeyLastUsed(ctx, id); err != nil {
			s.logger.Debug("update api key last used", "id", id, "error", err)
		}
	}()
}

func (s *AuthService) decoyHash() string {
	s.decoyOnce.Do(func() {
		h, err := apikey.HashSecret("decoy", s.hasher.Cost())
		if err != nil {
			s.logger.Error("build decoy hash", "error", err)
			return
		}
		s.decoy = h
	})
	return s.decoy
}

// ValidateScopes rejects entries with an empty resource or action list.
func ValidateScopes(scopes []apikey.Scope) error {
	for _, sc := range scopes {
		if sc.Resource == "" {
			return fmt.Errorf("%w: empty resource", ErrInvalidScope)
		}
		if len(sc.Actions) == 0 {
			return fmt.Errorf("%w: %s has no actions", ErrInvalidScope, sc.Resource)
		}
		for _, a := range sc.Actions {
			if a == "" {
				return fmt.Errorf("%w: %s has an empty action", ErrInvalidScope, sc.Resource)
			}
		}
	}
	return nil
}

// ValidateJWT verifies an admin bearer token.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*JWTPrincipal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(jwtIssuer), jwt.WithTimeFunc(s.clock))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.Role != roleAdmin {
		return nil, ErrInvalidToken
	}

	return &JWTPrincipal{Subject: claims.Subject}, nil
}

// IssueJWT creates a signed admin token for subject.
func (s *AuthService) IssueJWT(ctx context.Context, subject string, ttl time.Duration) (string, error) {
	now := s.clock()
	claims := jwtClaims{
		Role: roleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    jwtIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

const (
	jwtIssuer = "aegisx"
	roleAdmin = "admin"
)

type jwtClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}
