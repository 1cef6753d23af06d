package model

import (
	"time"

	"solomate-backend/internal/domain"
)

// Tier categorizes an entitlement and decides both drain priority and
// nightly renewal behavior.
type Tier string

const (
	TierFree     Tier = "free"
	TierSilver   Tier = "silver"
	TierPremium  Tier = "premium"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
	TierAddOn    Tier = "add_on"
)

// DrainOrder is the priority in which tiers are consumed. Recurring paid
// tiers burn first (use it or lose it on renewal), purchased add-on minutes
// next, free time strictly last.
var DrainOrder = []Tier{TierSilver, TierPremium, TierGold, TierPlatinum, TierAddOn, TierFree}

var paidTiers = map[Tier]bool{
	TierSilver:   true,
	TierPremium:  true,
	TierGold:     true,
	TierPlatinum: true,
}

// ParseTier validates a tier string against the closed set.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(s); t {
	case TierFree, TierSilver, TierPremium, TierGold, TierPlatinum, TierAddOn:
		return t, nil
	default:
		return "", domain.ErrInvalidArgument
	}
}

// IsPaid reports whether the tier is a recurring paid subscription tier.
// Add-on minutes are purchased but not a subscription tier.
func (t Tier) IsPaid() bool { return paidTiers[t] }

// ResetCeilingSeconds returns the balance an active entitlement of this tier
// is reset to by the nightly job, or 0 if the tier does not renew nightly.
func (t Tier) ResetCeilingSeconds() int {
	switch t {
	case TierFree:
		return 900
	case TierSilver:
		return 1800
	case TierPremium:
		return 3600
	default:
		return 0
	}
}

type EntitlementStatus string

const (
	EntitlementStatusActive    EntitlementStatus = "active"
	EntitlementStatusCancelled EntitlementStatus = "cancelled"
	EntitlementStatusExpired   EntitlementStatus = "expired"
)

// Entitlement grants a user a pool of remaining talk-time under one tier.
// RemainingSeconds is only ever decremented by the metering engine and reset
// or topped up by external lifecycle flows; it never goes negative.
type Entitlement struct {
	ID               string // UUID
	UserID           string // UUID of user
	Tier             Tier
	RemainingSeconds int
	Status           EntitlementStatus
	ExpiresAt        *time.Time // nil = no expiration (sorts last within a tier)
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewEntitlement validates and constructs an active entitlement.
func NewEntitlement(id, userID string, tier Tier, seconds int, expiresAt *time.Time) (*Entitlement, error) {
	if id == "" || userID == "" || seconds < 0 {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := ParseTier(string(tier)); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Entitlement{
		ID:               id,
		UserID:           userID,
		Tier:             tier,
		RemainingSeconds: seconds,
		Status:           EntitlementStatusActive,
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// BucketKey groups entitlements for balance reporting: one bucket per tier,
// except add-on purchases which stay individually visible.
func (e *Entitlement) BucketKey() string {
	if e.Tier == TierAddOn {
		return string(TierAddOn) + "_" + e.ID
	}
	return string(e.Tier)
}

// Deduction records how many seconds one entitlement contributed to a plan.
type Deduction struct {
	EntitlementID   string `json:"entitlement_id"`
	Tier            Tier   `json:"tier"`
	SecondsDeducted int    `json:"seconds_deducted"`
	NewBalance      int    `json:"new_balance"`
}

// DeductionPlan is the ordered record of one deduction call. It is ephemeral,
// returned to the caller for auditing; only the balance updates persist.
type DeductionPlan struct {
	ID         string      `json:"id"` // ULID, sortable by creation time
	UserID     string      `json:"user_id"`
	Requested  int         `json:"requested_seconds"`
	Deductions []Deduction `json:"deductions"`
}

// TotalDeducted sums the plan's entries. For a committed plan it equals
// Requested; for a shortfall diagnostic it is what was available.
func (p *DeductionPlan) TotalDeducted() int {
	total := 0
	for _, d := range p.Deductions {
		total += d.SecondsDeducted
	}
	return total
}

// BalanceBucket is one reporting bucket of a talk-time breakdown.
type BalanceBucket struct {
	EntitlementID string `json:"entitlement_id"`
	Tier          Tier   `json:"tier"`
	Seconds       int    `json:"seconds"`
}

// TalkTimeBalance is the aggregated view of a user's usable talk-time.
type TalkTimeBalance struct {
	TotalSeconds int                      `json:"total_seconds"`
	Breakdown    map[string]BalanceBucket `json:"breakdown"`
}
