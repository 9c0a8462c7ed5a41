package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mbd888/riskgate/internal/aml"
	"github.com/mbd888/riskgate/internal/circuitbreaker"
	"github.com/mbd888/riskgate/internal/denylist"
	"github.com/mbd888/riskgate/internal/idgen"
	"github.com/mbd888/riskgate/internal/metrics"
	"github.com/mbd888/riskgate/internal/ml"
	"github.com/mbd888/riskgate/internal/onchain"
	"github.com/mbd888/riskgate/internal/syncutil"
	"github.com/mbd888/riskgate/internal/traces"
	"github.com/mbd888/riskgate/internal/validation"
)

// Weighting profiles. Hybrid applies when the model service answered;
// rule-only applies when it did not. When AML data is absent its weight
// is simply omitted — the remaining weights are NOT renormalized, so a
// signal-poor evaluation understates rather than overstates risk. That
// is deliberate policy, not an oversight.
const (
	ProfileHybrid   = "hybrid"
	ProfileRuleOnly = "rule_only"

	hybridWeightML         = 0.45
	hybridWeightAge        = 0.08
	hybridWeightHistory    = 0.10
	hybridWeightReputation = 0.07
	hybridWeightBehavior   = 0.05
	hybridWeightAML        = 0.25

	ruleWeightAge        = 0.20
	ruleWeightHistory    = 0.25
	ruleWeightReputation = 0.15
	ruleWeightBehavior   = 0.10
	ruleWeightAML        = 0.30
)

// Reputation and behavior bucket increments.
const (
	reputationContractPenalty  = 30
	reputationDrainedPenalty   = 20
	behaviorRapidFirePenalty   = 40
	behaviorGasOutlierPenalty  = 30
	behaviorDustClusterPenalty = 30
	anomalyBoostPerScore       = 10
)

// DefaultProviderTimeout bounds each upstream signal call independently.
const DefaultProviderTimeout = 5 * time.Second

// Aggregator orchestrates the signal providers and blends their outputs
// into a single verdict per wallet address.
type Aggregator struct {
	deny    *denylist.Checker
	chain   onchain.Provider
	aml     aml.Provider // nil when AML screening is disabled
	ml      ml.Predictor // nil when the model service is disabled
	cache   *Cache
	store   Store // nil disables the audit trail
	breaker *circuitbreaker.Breaker
	evalMu  *syncutil.KeyedMutex // serializes concurrent evaluations per address

	providerTimeout time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// NewAggregator creates the risk aggregator. The deny-list checker,
// on-chain provider, and cache are required; AML, ML, and the audit
// store may be nil.
func NewAggregator(deny *denylist.Checker, chain onchain.Provider, cache *Cache, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		deny:            deny,
		chain:           chain,
		cache:           cache,
		breaker:         circuitbreaker.New(5, 30*time.Second),
		evalMu:          syncutil.NewKeyedMutex(),
		providerTimeout: DefaultProviderTimeout,
		logger:          logger,
		now:             time.Now,
	}
}

// WithAML enables AML screening.
func (a *Aggregator) WithAML(p aml.Provider) *Aggregator {
	a.aml = p
	return a
}

// WithML enables model-based scoring.
func (a *Aggregator) WithML(p ml.Predictor) *Aggregator {
	a.ml = p
	return a
}

// WithStore enables the verdict audit trail.
func (a *Aggregator) WithStore(s Store) *Aggregator {
	a.store = s
	return a
}

// WithProviderTimeout overrides the per-provider call budget.
func (a *Aggregator) WithProviderTimeout(d time.Duration) *Aggregator {
	a.providerTimeout = d
	return a
}

// WithClock overrides the aggregator's clock. Test hook.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Evaluate produces a risk verdict for the address. Upstream failures
// degrade to a best-effort verdict; the only error returned is a
// malformed address, rejected before any provider call.
func (a *Aggregator) Evaluate(ctx context.Context, address string) (*Verdict, error) {
	addr, err := validation.NormalizeAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	ctx, span := traces.StartSpan(ctx, "risk.Evaluate", traces.WalletAddr(addr))
	defer span.End()

	if entry, hit := a.deny.Check(addr); hit {
		metrics.DenyListHitsTotal.Inc()
		metrics.EvaluationsTotal.WithLabelValues("denylist").Inc()
		return a.denyListVerdict(addr, entry), nil
	}

	if v, ok := a.cache.Get(addr); ok {
		metrics.EvaluationsTotal.WithLabelValues("cached").Inc()
		return v, nil
	}

	// Concurrent requests for the same address wait for the first one's
	// verdict instead of fanning out duplicate provider calls. Dedupe is
	// best-effort: a cancelled waiter just computes on its own.
	if release, err := a.evalMu.Acquire(ctx, addr); err == nil {
		defer release()
		if v, ok := a.cache.Get(addr); ok {
			metrics.EvaluationsTotal.WithLabelValues("cached").Inc()
			return v, nil
		}
	}

	start := a.now()
	v := a.compute(ctx, addr)
	metrics.EvaluationDuration.Observe(a.now().Sub(start).Seconds())
	metrics.EvaluationsTotal.WithLabelValues(v.Profile).Inc()
	span.SetAttributes(traces.RiskScore(v.RiskScore), traces.RiskTier(string(v.RiskTier)))

	// A cancelled request must not poison the cache with a verdict
	// built from partially-fetched signals.
	if ctx.Err() == nil {
		a.cache.Put(addr, v)
		a.audit(v)
	}
	return v, nil
}

func (a *Aggregator) compute(ctx context.Context, addr string) *Verdict {
	var (
		wg        sync.WaitGroup
		chainData *onchain.Data
		amlSignal *aml.Signal
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		chainData = a.fetchOnchain(ctx, addr)
	}()

	if a.aml != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			amlSignal = a.fetchAML(ctx, addr)
		}()
	}
	wg.Wait()

	var (
		factors []Factor
		stats   *onchain.Stats
	)
	if chainData != nil {
		s := onchain.ComputeStats(chainData, a.now())
		stats = &s
		factors = append(factors, ageFactor(s), historyFactor(s), reputationFactor(s), behaviorFactor(s))
	}

	mlSig := a.fetchML(ctx, addr, chainData)

	profile := ProfileRuleOnly
	if mlSig != nil {
		profile = ProfileHybrid
	}

	if amlSignal != nil {
		factors = append(factors, amlFactor(amlSignal, profile))
	}
	if mlSig != nil {
		factors = append(factors, mlFactor(mlSig))
	} else {
		// Rule-only: re-weight the on-chain factors.
		for i := range factors {
			factors[i].Weight = ruleWeight(factors[i].Kind)
		}
	}

	score := blend(factors)
	tier := TierForScore(score)

	computedAt := a.now()
	return &Verdict{
		ID:              idgen.WithPrefix("vrd_"),
		Address:         addr,
		RiskScore:       score,
		RiskTier:        tier,
		Factors:         factors,
		Recommendations: recommendations(score, tier, amlSignal, stats),
		ML:              mlSig,
		Profile:         profile,
		ComputedAt:      computedAt,
		ExpiresAt:       computedAt.Add(a.cache.TTL()),
	}
}

// fetchML decides availability, then requests the prediction and the
// anomaly check concurrently. Any failure means no ML signal, which is
// a profile choice rather than an error.
func (a *Aggregator) fetchML(ctx context.Context, addr string, chainData *onchain.Data) *MLSignal {
	if a.ml == nil || ctx.Err() != nil {
		return nil
	}
	if !a.breaker.Allow("ml") {
		metrics.ProviderFailuresTotal.WithLabelValues("ml", "circuit_open").Inc()
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, a.providerTimeout)
	available := a.ml.IsAvailable(probeCtx)
	cancel()
	if !available {
		a.breaker.RecordFailure("ml")
		metrics.ProviderFailuresTotal.WithLabelValues("ml", "unavailable").Inc()
		return nil
	}

	features := ml.BuildFeatures(chainData)

	var (
		wg      sync.WaitGroup
		pred    *ml.Signal
		anomaly *ml.AnomalySignal
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, a.providerTimeout)
		defer cancel()
		start := time.Now()
		p, err := a.ml.Predict(cctx, addr, features)
		metrics.ProviderDuration.WithLabelValues("ml").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ProviderFailuresTotal.WithLabelValues("ml", failureCause(err)).Inc()
			a.logger.Warn("ml prediction failed", "address", addr, "error", err)
			return
		}
		pred = p
	}()
	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, a.providerTimeout)
		defer cancel()
		an, err := a.ml.PredictAnomaly(cctx, addr, features)
		if err != nil {
			metrics.ProviderFailuresTotal.WithLabelValues("ml", failureCause(err)).Inc()
			a.logger.Warn("anomaly check failed", "address", addr, "error", err)
			return
		}
		anomaly = an
	}()
	wg.Wait()

	if pred == nil {
		a.breaker.RecordFailure("ml")
		return nil
	}
	a.breaker.RecordSuccess("ml")

	sig := &MLSignal{
		FraudProbability: pred.FraudProbability,
		RiskScore:        pred.RiskScore,
		Confidence:       pred.Confidence,
		ModelVersion:     pred.ModelVersion,
	}
	if anomaly != nil {
		sig.IsAnomaly = anomaly.IsAnomaly
		sig.AnomalyScore = anomaly.AnomalyScore
	}
	return sig
}

func (a *Aggregator) fetchOnchain(ctx context.Context, addr string) *onchain.Data {
	if !a.breaker.Allow("onchain") {
		metrics.ProviderFailuresTotal.WithLabelValues("onchain", "circuit_open").Inc()
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, a.providerTimeout)
	defer cancel()

	start := time.Now()
	data, err := a.chain.Fetch(cctx, addr)
	metrics.ProviderDuration.WithLabelValues("onchain").Observe(time.Since(start).Seconds())
	if err != nil {
		a.breaker.RecordFailure("onchain")
		metrics.ProviderFailuresTotal.WithLabelValues("onchain", failureCause(err)).Inc()
		a.logger.Warn("on-chain fetch failed", "address", addr, "error", err)
		return nil
	}
	a.breaker.RecordSuccess("onchain")
	return data
}

func (a *Aggregator) fetchAML(ctx context.Context, addr string) *aml.Signal {
	if !a.breaker.Allow("aml") {
		metrics.ProviderFailuresTotal.WithLabelValues("aml", "circuit_open").Inc()
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, a.providerTimeout)
	defer cancel()

	start := time.Now()
	sig, err := a.aml.Screen(cctx, addr)
	metrics.ProviderDuration.WithLabelValues("aml").Observe(time.Since(start).Seconds())
	if err != nil {
		a.breaker.RecordFailure("aml")
		metrics.ProviderFailuresTotal.WithLabelValues("aml", failureCause(err)).Inc()
		a.logger.Warn("aml screening failed", "address", addr, "error", err)
		return nil
	}
	a.breaker.RecordSuccess("aml")
	return sig
}

func failureCause(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

// denyListVerdict is the forced Critical verdict for a listed address.
// Never cached: the list can change out from under a 24h TTL, so the
// verdict expires the moment it is computed and every request re-checks
// the list.
func (a *Aggregator) denyListVerdict(addr string, entry denylist.Entry) *Verdict {
	computedAt := a.now()
	reason := entry.Reason
	if reason == "" {
		reason = "known bad address"
	}
	v := &Verdict{
		ID:        idgen.WithPrefix("vrd_"),
		Address:   addr,
		RiskScore: 100,
		RiskTier:  TierCritical,
		Factors: []Factor{{
			Kind:       FactorAddressReputation,
			Score:      100,
			Weight:     1.0,
			Descriptor: "address is on the deny-list",
			Details:    map[string]any{"reason": reason, "addedAt": entry.AddedAt},
		}},
		Recommendations: []string{
			"BLOCK: address is on the deny-list (" + reason + ")",
			"Do not process transactions for this address",
		},
		Profile:    "denylist",
		ComputedAt: computedAt,
		ExpiresAt:  computedAt,
	}
	a.audit(v)
	return v
}

// audit persists the verdict asynchronously; best-effort trail.
func (a *Aggregator) audit(v *Verdict) {
	if a.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.store.Record(ctx, v); err != nil {
			a.logger.Warn("verdict audit write failed", "address", v.Address, "error", err)
		}
	}()
}

// blend sums the weighted factor scores, rounds, and clamps to [0, 100].
func blend(factors []Factor) int {
	var total float64
	for _, f := range factors {
		total += f.Score * f.Weight
	}
	score := int(math.Round(total))
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

func ruleWeight(kind string) float64 {
	switch kind {
	case FactorWalletAge:
		return ruleWeightAge
	case FactorTransactionHistory:
		return ruleWeightHistory
	case FactorAddressReputation:
		return ruleWeightReputation
	case FactorBehaviorPattern:
		return ruleWeightBehavior
	case FactorAMLCompliance:
		return ruleWeightAML
	default:
		return 0
	}
}

// ageFactor: newer wallets score higher risk.
func ageFactor(s onchain.Stats) Factor {
	var score float64
	switch {
	case s.WalletAgeDays == 0:
		score = 100
	case s.WalletAgeDays < 7:
		score = 80
	case s.WalletAgeDays < 30:
		score = 60
	case s.WalletAgeDays < 90:
		score = 40
	case s.WalletAgeDays < 180:
		score = 20
	default:
		score = 10
	}
	return Factor{
		Kind:       FactorWalletAge,
		Score:      score,
		Weight:     hybridWeightAge,
		Descriptor: fmt.Sprintf("wallet age %d days", s.WalletAgeDays),
		Details:    map[string]any{"walletAgeDays": s.WalletAgeDays},
	}
}

// historyFactor: thinner history scores higher risk.
func historyFactor(s onchain.Stats) Factor {
	var score float64
	switch {
	case s.TransactionCount == 0:
		score = 100
	case s.TransactionCount < 5:
		score = 70
	case s.TransactionCount < 20:
		score = 50
	case s.TransactionCount < 50:
		score = 30
	default:
		score = 15
	}
	return Factor{
		Kind:       FactorTransactionHistory,
		Score:      score,
		Weight:     hybridWeightHistory,
		Descriptor: fmt.Sprintf("%d transactions, avg %.4f ETH", s.TransactionCount, s.AvgValueEth),
		Details: map[string]any{
			"transactionCount": s.TransactionCount,
			"avgValueEth":      s.AvgValueEth,
		},
	}
}

func reputationFactor(s onchain.Stats) Factor {
	var score float64
	notes := "externally owned account"
	if s.IsContract {
		score += reputationContractPenalty
		notes = "smart contract address"
	}
	if s.ZeroBalance && s.HasActivity {
		score += reputationDrainedPenalty
		notes += ", drained balance"
	}
	if score > 100 {
		score = 100
	}
	return Factor{
		Kind:       FactorAddressReputation,
		Score:      score,
		Weight:     hybridWeightReputation,
		Descriptor: notes,
		Details: map[string]any{
			"isContract":  s.IsContract,
			"zeroBalance": s.ZeroBalance,
		},
	}
}

func behaviorFactor(s onchain.Stats) Factor {
	var score float64
	var flagged []string
	if s.RapidFire {
		score += behaviorRapidFirePenalty
		flagged = append(flagged, "rapid-fire transactions")
	}
	if s.GasOutliers {
		score += behaviorGasOutlierPenalty
		flagged = append(flagged, "gas usage outliers")
	}
	if s.DustClustering {
		score += behaviorDustClusterPenalty
		flagged = append(flagged, "dust-amount clustering")
	}
	if score > 100 {
		score = 100
	}

	desc := "no behavioral flags"
	if len(flagged) > 0 {
		desc = ""
		for i, f := range flagged {
			if i > 0 {
				desc += ", "
			}
			desc += f
		}
	}
	return Factor{
		Kind:       FactorBehaviorPattern,
		Score:      score,
		Weight:     hybridWeightBehavior,
		Descriptor: desc,
		Details: map[string]any{
			"rapidFire":      s.RapidFire,
			"gasOutliers":    s.GasOutliers,
			"dustClustering": s.DustClustering,
		},
	}
}

func amlFactor(sig *aml.Signal, profile string) Factor {
	weight := hybridWeightAML
	if profile == ProfileRuleOnly {
		weight = ruleWeightAML
	}

	indicators := make([]string, 0, len(sig.Indicators))
	for _, ind := range sig.Indicators {
		indicators = append(indicators, ind.Type)
	}
	return Factor{
		Kind:       FactorAMLCompliance,
		Score:      aml.ComponentScore(sig.Score),
		Weight:     weight,
		Descriptor: fmt.Sprintf("AML exposure score %.1f/10, %d indicators", sig.Score, len(sig.Indicators)),
		Details: map[string]any{
			"vendorScore": sig.Score,
			"indicators":  indicators,
		},
	}
}

// mlFactor converts the model output into a factor, boosting its score
// by the anomaly finding. Anomalies only ever raise the score.
func mlFactor(sig *MLSignal) Factor {
	score := sig.RiskScore
	if sig.IsAnomaly {
		score += sig.AnomalyScore * anomalyBoostPerScore
		if score > 100 {
			score = 100
		}
	}
	return Factor{
		Kind:       FactorMLPrediction,
		Score:      score,
		Weight:     hybridWeightML,
		Descriptor: fmt.Sprintf("model fraud probability %.2f, confidence %.2f", sig.FraudProbability, sig.Confidence),
		Details: map[string]any{
			"fraudProbability": sig.FraudProbability,
			"confidence":       sig.Confidence,
			"isAnomaly":        sig.IsAnomaly,
			"anomalyScore":     sig.AnomalyScore,
			"modelVersion":     sig.ModelVersion,
		},
	}
}
