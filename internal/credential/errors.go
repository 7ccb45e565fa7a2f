// Package credential holds the error taxonomy shared by API key verification
// and license entitlement checks. Every negative outcome of either path is one
// of these sentinels (possibly wrapped), so callers can branch with errors.Is
// and choose their own transport-level response.
package credential

import "errors"

var (
	// ErrFormat means the presented token does not match its textual format.
	ErrFormat = errors.New("malformed credential")

	// ErrEmpty is returned (wrapped in ErrFormat) when no token was presented
	// at all, which callers usually report differently from a typo.
	ErrEmpty = errors.New("empty credential")

	// ErrChecksum means a license key is well formed but its checksum does not
	// match its serial, typically a transcription mistake.
	ErrChecksum = errors.New("license checksum mismatch")

	// ErrUnknownTier means a license key names a tier outside the closed set.
	ErrUnknownTier = errors.New("unknown license tier")

	// ErrSecretMismatch means an API key hash comparison failed.
	ErrSecretMismatch = errors.New("api key secret mismatch")

	// ErrExpired means a credential is past its validity window.
	ErrExpired = errors.New("credential expired")

	// ErrAbsent means no credential could be found: no stored hash for a key
	// prefix, or no license in any configured source.
	ErrAbsent = errors.New("credential not found")

	// ErrLicenseAbsent is ErrAbsent on the license path: no source holds a
	// license key.
	ErrLicenseAbsent error = &absentError{msg: "no license key found"}

	// ErrKeyAbsent is ErrAbsent on the API key path: no key is stored under
	// the presented prefix.
	ErrKeyAbsent error = &absentError{msg: "api key not found"}

	// ErrRevoked means the external store has revoked the API key.
	ErrRevoked = errors.New("api key revoked")

	// ErrInsufficientScope means the caller is authenticated but its scopes do
	// not grant the requested resource and action.
	ErrInsufficientScope = errors.New("insufficient scope")

	// ErrFeatureNotIncluded means a valid license exists but its tier does not
	// include the requested feature.
	ErrFeatureNotIncluded = errors.New("feature not included in license tier")
)

// Remediation returns short, user-facing guidance for err. It returns an
// empty string for errors outside the taxonomy.
func Remediation(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmpty):
		return "no key was provided"
	case errors.Is(err, ErrChecksum):
		return "the key looks mistyped; copy it again exactly as issued"
	case errors.Is(err, ErrUnknownTier):
		return "the key names an unknown tier; check that it was issued for this tool"
	case errors.Is(err, ErrFormat):
		return "the key is malformed; check for missing or extra characters"
	case errors.Is(err, ErrSecretMismatch):
		return "the API key was not recognised; create a new key with `aegisx key create`"
	case errors.Is(err, ErrRevoked):
		return "the API key has been revoked; create a new key with `aegisx key create`"
	case errors.Is(err, ErrExpired):
		return "the credential has expired; obtain a new one"
	case errors.Is(err, ErrLicenseAbsent):
		return "activate with `aegisx license activate <key>`"
	case errors.Is(err, ErrKeyAbsent):
		return "create one with `aegisx key create`"
	case errors.Is(err, ErrAbsent):
		return "no credential found"
	case errors.Is(err, ErrInsufficientScope):
		return "the API key lacks the required scope"
	case errors.Is(err, ErrFeatureNotIncluded):
		return "your license tier does not include this feature; upgrade to unlock it"
	default:
		return ""
	}
}

// Code returns a stable machine-readable code for err, for API responses
// and metric labels. Errors outside the taxonomy map to "error".
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmpty):
		return "empty"
	case errors.Is(err, ErrChecksum):
		return "invalid_checksum"
	case errors.Is(err, ErrUnknownTier):
		return "unknown_tier"
	case errors.Is(err, ErrFormat):
		return "malformed"
	case errors.Is(err, ErrSecretMismatch):
		return "secret_mismatch"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAbsent):
		return "absent"
	case errors.Is(err, ErrInsufficientScope):
		return "insufficient_scope"
	case errors.Is(err, ErrFeatureNotIncluded):
		return "feature_not_included"
	default:
		return "error"
	}
}

// absentError narrows ErrAbsent to one credential kind while still matching
// it with errors.Is.
type absentError struct {
	msg string
}

func (e *absentError) Error() string { return e.msg }
func (e *absentError) Unwrap() error { return ErrAbsent }
