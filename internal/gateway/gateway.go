// Package gateway is the policy layer between the risk aggregator and
// the payment path. It turns a verdict into an allow/block decision
// under a configurable threshold, honors AML auto-blocks, and fails
// open when the engine itself cannot answer.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mbd888/riskgate/internal/aml"
	"github.com/mbd888/riskgate/internal/metrics"
	"github.com/mbd888/riskgate/internal/risk"
)

// DefaultBlockThreshold is the score at or above which a transaction is
// blocked. Independent of the verdict tier buckets: the tier is
// informational, this is a policy knob.
const DefaultBlockThreshold = 75

// Decision is the gateway's answer for one address. Ephemeral; the
// verdict inside it is what gets audited.
type Decision struct {
	Allowed     bool          `json:"allowed"`
	RiskScore   int           `json:"riskScore"`
	RiskTier    risk.Tier     `json:"riskLevel"`
	BlockReason string        `json:"blockReason,omitempty"`
	Degraded    string        `json:"degraded,omitempty"`
	Verdict     *risk.Verdict `json:"verdict,omitempty"`
}

// Evaluator produces verdicts. Satisfied by *risk.Aggregator.
type Evaluator interface {
	Evaluate(ctx context.Context, address string) (*risk.Verdict, error)
}

// Gateway applies block policy on top of an Evaluator.
type Gateway struct {
	engine    Evaluator
	threshold int
	logger    *slog.Logger
}

// New creates a decision gateway with the given block threshold.
func New(engine Evaluator, threshold int, logger *slog.Logger) *Gateway {
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultBlockThreshold
	}
	return &Gateway{engine: engine, threshold: threshold, logger: logger}
}

// Threshold returns the configured block threshold.
func (g *Gateway) Threshold() int {
	return g.threshold
}

// Decide evaluates the address and applies block policy. A total engine
// fault fails open: the transaction is allowed and the cause is
// attached for audit. Blocking on engine failure would turn every
// internal outage into a payment outage.
func (g *Gateway) Decide(ctx context.Context, address string) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("risk engine panic, failing open", "address", address, "panic", r)
			metrics.DecisionsTotal.WithLabelValues("fail_open").Inc()
			d = Decision{
				Allowed:  true,
				Degraded: fmt.Sprintf("risk engine fault: %v", r),
			}
		}
	}()

	v, err := g.engine.Evaluate(ctx, address)
	if err != nil {
		if errors.Is(err, risk.ErrInvalidAddress) {
			// Malformed address: not a degradation, the caller sent garbage.
			metrics.DecisionsTotal.WithLabelValues("block").Inc()
			return Decision{
				Allowed:     false,
				BlockReason: err.Error(),
			}
		}
		g.logger.Error("risk evaluation failed, failing open", "address", address, "error", err)
		metrics.DecisionsTotal.WithLabelValues("fail_open").Inc()
		return Decision{
			Allowed:  true,
			Degraded: "risk evaluation unavailable: " + err.Error(),
		}
	}

	d = Decision{
		Allowed:   true,
		RiskScore: v.RiskScore,
		RiskTier:  v.RiskTier,
		Verdict:   v,
	}

	switch {
	case v.RiskScore >= g.threshold:
		d.Allowed = false
		d.BlockReason = fmt.Sprintf("risk score %d at or above block threshold %d", v.RiskScore, g.threshold)
	case amlAutoBlock(v):
		d.Allowed = false
		d.BlockReason = "critical AML exposure: " + amlBlockDetail(v)
	}

	outcome := "allow"
	if !d.Allowed {
		outcome = "block"
	}
	metrics.DecisionsTotal.WithLabelValues(outcome).Inc()

	if !d.Allowed {
		g.logger.Info("transaction blocked",
			"address", v.Address, "score", v.RiskScore, "tier", v.RiskTier, "reason", d.BlockReason)
	}
	return d
}

// amlAutoBlock re-applies the categorical AML predicate to the verdict's
// AML factor so a moderate blended score cannot mask critical exposure.
func amlAutoBlock(v *risk.Verdict) bool {
	return aml.AutoBlock(amlSignalFromVerdict(v))
}

func amlBlockDetail(v *risk.Verdict) string {
	reasons := aml.BlockReasons(amlSignalFromVerdict(v))
	if len(reasons) == 0 {
		return "flagged indicators"
	}
	return strings.Join(reasons, ", ")
}

// amlSignalFromVerdict reconstructs the screening signal from the
// verdict's AML factor details.
func amlSignalFromVerdict(v *risk.Verdict) *aml.Signal {
	for _, f := range v.Factors {
		if f.Kind != risk.FactorAMLCompliance {
			continue
		}
		sig := &aml.Signal{}
		if score, ok := f.Details["vendorScore"].(float64); ok {
			sig.Score = score
		}
		switch types := f.Details["indicators"].(type) {
		case []string:
			for _, t := range types {
				sig.Indicators = append(sig.Indicators, aml.Indicator{Type: t})
			}
		case []any:
			// After a JSON round-trip through the audit store.
			for _, t := range types {
				if s, ok := t.(string); ok {
					sig.Indicators = append(sig.Indicators, aml.Indicator{Type: s})
				}
			}
		}
		return sig
	}
	return nil
}
