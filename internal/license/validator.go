package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aegisx/aegisx/internal/credential"
	"github.com/aegisx/aegisx/internal/expiry"
)

// Status is the terminal outcome of validating the stored license.
type Status string

const (
	StatusAbsent          Status = "absent"
	StatusInvalidFormat   Status = "invalid_format"
	StatusInvalidChecksum Status = "invalid_checksum"
	StatusUnknownTier     Status = "unknown_tier"
	StatusValid           Status = "valid"
	StatusExpired         Status = "expired"
)

// AllStatuses lists every Status, in the order the metrics gauge reports them.
func AllStatuses() []string {
	return []string{
		string(StatusAbsent), string(StatusInvalidFormat), string(StatusInvalidChecksum),
		string(StatusUnknownTier), string(StatusValid), string(StatusExpired),
	}
}

// Result is the outcome of Validate. Entitlement is set for Valid and
// Expired; Err is nil only for Valid.
type Result struct {
	Status      Status       `json:"status"`
	Entitlement *Entitlement `json:"entitlement,omitempty"`
	Source      string       `json:"source,omitempty"`
	Key         string       `json:"key,omitempty"`
	Err         error        `json:"-"`
}

// FeatureCheck is the outcome of CheckFeature.
type FeatureCheck struct {
	Feature string `json:"feature"`
	Allowed bool   `json:"allowed"`
	Status  Status `json:"status"`
	Err     error  `json:"-"`
}

// Validator resolves the stored license through a provider chain and
// evaluates it. It holds no state between calls beyond what its GrantStore
// persists.
type Validator struct {
	chain  Chain
	clock  expiry.Clock
	grants GrantStore
	logger *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock sets the time source.
func WithClock(c expiry.Clock) Option {
	return func(v *Validator) { v.clock = c }
}

// WithGrants anchors trial expiry to the first recorded activation of each
// serial. Without a GrantStore every validation treats the license as
// activated at the moment of the call.
func WithGrants(g GrantStore) Option {
	return func(v *Validator) { v.grants = g }
}

// WithLogger sets the logger used for non-fatal problems.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// NewValidator returns a Validator over chain.
func NewValidator(chain Chain, opts ...Option) *Validator {
	v := &Validator{
		chain:  chain,
		clock:  expiry.SystemClock,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate resolves and evaluates the stored license.
func (v *Validator) Validate(ctx context.Context) Result {
	raw, source, found, err := v.chain.Resolve(ctx)
	if err != nil {
		return Result{Status: StatusAbsent, Source: source, Err: fmt.Errorf("%w: %w", credential.ErrLicenseAbsent, err)}
	}
	if !found {
		return Result{Status: StatusAbsent, Err: credential.ErrLicenseAbsent}
	}
	res := v.Evaluate(ctx, raw)
	res.Source = source
	return res
}

// Evaluate validates raw directly, bypassing the provider chain. The CLI
// uses it to check a key before activating it.
func (v *Validator) Evaluate(ctx context.Context, raw string) Result {
	format := ValidateKeyFormat(raw)
	if !format.Valid {
		return Result{Status: statusFor(format.Err), Err: format.Err}
	}
	parsed := format.Parsed
	now := v.clock()
	activatedAt := now
	if v.grants != nil {
		t, err := v.grants.ActivatedAt(ctx, parsed.Serial, now)
		if err != nil {
			v.logger.Warn("license grant lookup failed, anchoring at now", "serial", maskSerial(parsed.Serial), "error", err)
		} else {
			activatedAt = t
		}
	}

	ent := Resolve(parsed, activatedAt, now)
	res := Result{Entitlement: &ent, Key: MaskKey(parsed.String())}
	if ent.Expired(now) {
		res.Status = StatusExpired
		res.Err = fmt.Errorf("%w: trial ended %s", credential.ErrExpired, ent.ExpiresAt.Format(time.DateOnly))
		return res
	}
	res.Status = StatusValid
	return res
}

// CheckFeature reports whether the stored license grants feature. Anything
// other than a valid license denies every feature; a missing license yields
// ErrAbsent and a valid license without the feature ErrFeatureNotIncluded.
func (v *Validator) CheckFeature(ctx context.Context, feature string) FeatureCheck {
	res := v.Validate(ctx)
	fc := FeatureCheck{Feature: feature, Status: res.Status}
	if res.Status != StatusValid {
		fc.Err = res.Err
		return fc
	}
	if !res.Entitlement.HasFeature(feature) {
		fc.Err = fmt.Errorf("%w: %s is not part of the %s tier", credential.ErrFeatureNotIncluded, feature, res.Entitlement.TierName)
		return fc
	}
	fc.Allowed = true
	return fc
}

func statusFor(err error) Status {
	switch {
	case errors.Is(err, credential.ErrChecksum):
		return StatusInvalidChecksum
	case errors.Is(err, credential.ErrUnknownTier):
		return StatusUnknownTier
	default:
		return StatusInvalidFormat
	}
}

func maskSerial(s string) string {
	if len(s) <= 2 {
		return "****"
	}
	return s[:2] + "****"
}
