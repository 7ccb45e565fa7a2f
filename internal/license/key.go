// Package license validates AEGISX license keys and resolves the feature
// entitlements they grant.
//
// A key has the form
//
//	AEGISX-{TIER}-{SERIAL}-{CHECKSUM}
//
// The checksum is a two hex digit tag computed from the serial alone. It
// only catches transcription mistakes and is trivially forgeable; it is not
// a signature.
package license

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/aegisx/aegisx/internal/credential"
)

// Product is the literal first segment of every license key.
const Product = "AEGISX"

// SerialLength is the length of generated serials.
const SerialLength = 8

const serialAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Tier is a license level. The set is closed.
type Tier string

const (
	TierPro        Tier = "PRO"
	TierTeam       Tier = "TEAM"
	TierEnterprise Tier = "ENT"
	TierTrial      Tier = "TRIAL"
)

// Tiers lists every known tier from least to most capable.
var Tiers = []Tier{TierTrial, TierPro, TierTeam, TierEnterprise}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierPro, TierTeam, TierEnterprise, TierTrial:
		return true
	}
	return false
}

// ParsedKey is a structurally valid license key. Parsing does not verify
// the checksum.
type ParsedKey struct {
	Tier     Tier
	Serial   string
	Checksum string
}

// String renders the key in canonical form.
func (p ParsedKey) String() string {
	return strings.Join([]string{Product, string(p.Tier), p.Serial, p.Checksum}, "-")
}

// FormatResult is the outcome of ValidateKeyFormat. Parsed is set only when
// Valid is true.
type FormatResult struct {
	Valid  bool
	Parsed ParsedKey
	Err    error
}

// ParseKey parses raw case-insensitively. It returns false on any deviation
// from the key layout rather than a partial result.
func ParseKey(raw string) (ParsedKey, bool) {
	segs, ok := split(raw)
	if !ok || segs[0] != Product || !isSerial(segs[2]) || !isChecksum(segs[3]) {
		return ParsedKey{}, false
	}
	tier := Tier(segs[1])
	if !tier.Valid() {
		return ParsedKey{}, false
	}
	return ParsedKey{Tier: tier, Serial: segs[2], Checksum: segs[3]}, true
}

// ComputeChecksum returns the two character checksum of serial. It is the
// classic 31-multiplier string hash over the uppercased serial bytes with
// 32-bit wraparound, reduced to its absolute value modulo 256.
func ComputeChecksum(serial string) string {
	var h int32
	for _, b := range []byte(strings.ToUpper(serial)) {
		h = h*31 + int32(b)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return fmt.Sprintf("%02X", v%256)
}

// ValidateKeyFormat parses raw and verifies its checksum. A checksum segment
// that is not two hex characters is malformed; only a well-formed checksum
// that disagrees with the serial is reported as ErrChecksum. Each failure class
// carries its own sentinel so callers can tell a malformed key from an
// unknown tier or a mistyped one.
func ValidateKeyFormat(raw string) FormatResult {
	if strings.TrimSpace(raw) == "" {
		return FormatResult{Err: fmt.Errorf("%w: %w", credential.ErrFormat, credential.ErrEmpty)}
	}
	segs, ok := split(raw)
	if !ok {
		return FormatResult{Err: fmt.Errorf("%w: expected %s-TIER-SERIAL-CHECKSUM", credential.ErrFormat, Product)}
	}
	if segs[0] != Product {
		return FormatResult{Err: fmt.Errorf("%w: key must start with %s", credential.ErrFormat, Product)}
	}
	if !isSerial(segs[2]) {
		return FormatResult{Err: fmt.Errorf("%w: serial must be alphanumeric", credential.ErrFormat)}
	}
	if !isChecksum(segs[3]) {
		return FormatResult{Err: fmt.Errorf("%w: checksum must be two hex characters", credential.ErrFormat)}
	}
	tier := Tier(segs[1])
	if !tier.Valid() {
		return FormatResult{Err: fmt.Errorf("%w: %q", credential.ErrUnknownTier, segs[1])}
	}
	if want := ComputeChecksum(segs[2]); segs[3] != want {
		return FormatResult{Err: credential.ErrChecksum}
	}
	return FormatResult{
		Valid:  true,
		Parsed: ParsedKey{Tier: tier, Serial: segs[2], Checksum: segs[3]},
	}
}

// BuildKey assembles a key for tier and serial with the matching checksum.
func BuildKey(tier Tier, serial string) string {
	serial = strings.ToUpper(serial)
	return ParsedKey{Tier: tier, Serial: serial, Checksum: ComputeChecksum(serial)}.String()
}

// GenerateKey returns a new key for tier with a random serial.
func GenerateKey(tier Tier) (string, error) {
	if !tier.Valid() {
		return "", fmt.Errorf("%w: %q", credential.ErrUnknownTier, tier)
	}
	serial, err := randomSerial()
	if err != nil {
		return "", err
	}
	return BuildKey(tier, serial), nil
}

// GenerateTrialKey returns a new TRIAL key.
func GenerateTrialKey() (string, error) {
	return GenerateKey(TierTrial)
}

// MaskKey hides the serial of a license key for logs and status output.
func MaskKey(raw string) string {
	p, ok := ParseKey(raw)
	if !ok {
		return "****"
	}
	return strings.Join([]string{Product, string(p.Tier), "****", p.Checksum}, "-")
}

func split(raw string) ([]string, bool) {
	segs := strings.Split(strings.ToUpper(strings.TrimSpace(raw)), "-")
	return segs, len(segs) == 4
}

func isSerial(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func isChecksum(s string) bool {
	if len(s) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

func randomSerial() (string, error) {
	buf := make([]byte, SerialLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate serial: %w", err)
	}
	for i, b := range buf {
		buf[i] = serialAlphabet[int(b)%len(serialAlphabet)]
	}
	return string(buf), nil
}
