// Package risk implements hybrid wallet risk scoring.
//
// Every wallet is evaluated against five weighted factors: wallet age,
// transaction history, address reputation, behavior patterns, and AML
// exposure — plus an ML fraud probability when the model service is up.
// Scores range from 0 (safe) to 100 (high risk). Verdicts are cached
// per address with a fixed TTL so the payment path gets consistent
// answers within the window.
package risk

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidAddress marks a malformed wallet address, rejected before
// any provider call.
var ErrInvalidAddress = errors.New("invalid wallet address")

// Tier is the qualitative risk label derived from the numeric score.
type Tier string

const (
	TierLow      Tier = "Low"
	TierMedium   Tier = "Medium"
	TierHigh     Tier = "High"
	TierCritical Tier = "Critical"
)

// Tier thresholds. These are informational buckets; the block gate used
// by the decision gateway is a separate, independently configured knob.
const (
	tierCriticalMin = 80
	tierHighMin     = 60
	tierMediumMin   = 30
)

// TierForScore maps a 0-100 score to its tier.
func TierForScore(score int) Tier {
	switch {
	case score >= tierCriticalMin:
		return TierCritical
	case score >= tierHighMin:
		return TierHigh
	case score >= tierMediumMin:
		return TierMedium
	default:
		return TierLow
	}
}

// Factor kinds, in the order they appear in a verdict.
const (
	FactorWalletAge          = "wallet_age"
	FactorTransactionHistory = "transaction_history"
	FactorAddressReputation  = "address_reputation"
	FactorBehaviorPattern    = "behavior_pattern"
	FactorAMLCompliance      = "aml_compliance"
	FactorMLPrediction       = "ml_prediction"
)

// Factor is one weighted sub-assessment contributing to a verdict.
type Factor struct {
	Kind       string         `json:"kind"`
	Score      float64        `json:"score"`
	Weight     float64        `json:"weight"`
	Descriptor string         `json:"descriptor"`
	Details    map[string]any `json:"details,omitempty"`
}

// MLSignal is a snapshot of the model output that contributed to a
// verdict. Not persisted beyond the verdict itself.
type MLSignal struct {
	FraudProbability float64 `json:"fraudProbability"`
	RiskScore        float64 `json:"riskScore"`
	Confidence       float64 `json:"confidence"`
	IsAnomaly        bool    `json:"isAnomaly"`
	AnomalyScore     float64 `json:"anomalyScore"`
	ModelVersion     string  `json:"modelVersion,omitempty"`
}

// Verdict is the complete risk assessment for one address at one point
// in time. Immutable once created; a recomputation supersedes it.
type Verdict struct {
	ID              string    `json:"id"`
	Address         string    `json:"address"`
	RiskScore       int       `json:"riskScore"`
	RiskTier        Tier      `json:"riskTier"`
	Factors         []Factor  `json:"factors"`
	Recommendations []string  `json:"recommendations"`
	ML              *MLSignal `json:"ml,omitempty"`
	Profile         string    `json:"profile"`
	ComputedAt      time.Time `json:"computedAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Expired reports whether the verdict's TTL has passed at the given time.
func (v *Verdict) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

// Store persists verdicts for audit trail.
type Store interface {
	Record(ctx context.Context, verdict *Verdict) error
	ListByAddress(ctx context.Context, address string, limit int) ([]*Verdict, error)
}
