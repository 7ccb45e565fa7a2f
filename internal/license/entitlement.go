package license

import (
	"slices"
	"time"

	"github.com/aegisx/aegisx/internal/expiry"
)

// TrialLength is how long a TRIAL license stays valid after activation.
const TrialLength = 14 * 24 * time.Hour

// Unlimited is the seat count of tiers without a seat cap.
const Unlimited = -1

// Feature names gated by license tier.
const (
	FeatureGenerateCRUD    = "generate:crud"
	FeatureGenerateImport  = "generate:import"
	FeatureGenerateEvents  = "generate:events"
	FeatureGenerateBulk    = "generate:bulk"
	FeatureTemplatesCustom = "templates:custom"
	FeatureTemplatesShared = "templates:shared"
	FeatureAuditLog        = "audit:log"
	FeatureSSO             = "sso"
	FeaturePrioritySupport = "priority-support"
	FeatureOnPrem          = "on-prem"
)

type tierInfo struct {
	name     string
	seats    int
	features []string
}

var (
	trialFeatures = []string{FeatureGenerateCRUD, FeatureGenerateImport}
	proFeatures   = append(slices.Clone(trialFeatures), FeatureGenerateEvents, FeatureGenerateBulk, FeatureTemplatesCustom)
	teamFeatures  = append(slices.Clone(proFeatures), FeatureTemplatesShared, FeatureAuditLog)
	entFeatures   = append(slices.Clone(teamFeatures), FeatureSSO, FeaturePrioritySupport, FeatureOnPrem)
)

var tiers = map[Tier]tierInfo{
	TierTrial:      {name: "Trial", seats: 1, features: trialFeatures},
	TierPro:        {name: "Professional", seats: 1, features: proFeatures},
	TierTeam:       {name: "Team", seats: 10, features: teamFeatures},
	TierEnterprise: {name: "Enterprise", seats: Unlimited, features: entFeatures},
}

// AllFeatures returns every feature any tier can grant.
func AllFeatures() []string {
	return slices.Clone(entFeatures)
}

// Entitlement is what a license grants. It is derived on every validation
// and never stored.
type Entitlement struct {
	Tier           Tier       `json:"tier"`
	TierName       string     `json:"tier_name"`
	DeveloperSeats int        `json:"developer_seats"`
	Features       []string   `json:"features"`
	Serial         string     `json:"serial"`
	ActivatedAt    time.Time  `json:"activated_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	DaysRemaining  *int       `json:"days_remaining,omitempty"`
}

// HasFeature reports whether the entitlement includes feature.
func (e Entitlement) HasFeature(feature string) bool {
	return slices.Contains(e.Features, feature)
}

// Expired reports whether the entitlement is past its expiry at now.
func (e Entitlement) Expired(now time.Time) bool {
	return expiry.IsExpired(e.ExpiresAt, now)
}

// Resolve maps a parsed key onto its tier's entitlement. Only TRIAL carries
// an expiry, anchored at activatedAt.
func Resolve(p ParsedKey, activatedAt, now time.Time) Entitlement {
	info := tiers[p.Tier]
	e := Entitlement{
		Tier:           p.Tier,
		TierName:       info.name,
		DeveloperSeats: info.seats,
		Features:       slices.Clone(info.features),
		Serial:         p.Serial,
		ActivatedAt:    activatedAt.UTC(),
	}
	if p.Tier == TierTrial {
		exp := e.ActivatedAt.Add(TrialLength)
		days := expiry.DaysRemaining(&exp, now)
		e.ExpiresAt = &exp
		e.DaysRemaining = &days
	}
	return e
}
