package risk

import (
	"fmt"
	"strings"

	"github.com/mbd888/riskgate/internal/aml"
	"github.com/mbd888/riskgate/internal/onchain"
)

// recommendations builds the ordered explanation trail for a verdict.
// An AML auto-block preempts everything else; otherwise the order is
// score tier, AML notes, then per-factor notes.
func recommendations(score int, tier Tier, amlSig *aml.Signal, stats *onchain.Stats) []string {
	if aml.AutoBlock(amlSig) {
		reasons := aml.BlockReasons(amlSig)
		return []string{
			"BLOCK: address has critical AML exposure (" + strings.Join(reasons, ", ") + ")",
			"Do not process transactions for this address",
			"Report to compliance for review",
		}
	}

	var recs []string

	switch tier {
	case TierCritical:
		recs = append(recs, "Block transaction and flag address for manual review")
	case TierHigh:
		recs = append(recs, "Require additional verification before processing")
	case TierMedium:
		recs = append(recs, "Monitor transaction activity for this address")
	default:
		recs = append(recs, "Proceed with standard processing")
	}

	if amlSig != nil {
		if amlSig.Score >= 4 {
			recs = append(recs, fmt.Sprintf("Elevated AML exposure score (%.1f/10)", amlSig.Score))
		}
		if len(amlSig.Indicators) > 0 {
			types := make([]string, 0, len(amlSig.Indicators))
			seen := map[string]bool{}
			for _, ind := range amlSig.Indicators {
				if !seen[ind.Type] {
					seen[ind.Type] = true
					types = append(types, ind.Type)
				}
			}
			recs = append(recs, "AML indicators present: "+strings.Join(types, ", "))
		}
	}

	if stats != nil {
		if stats.WalletAgeDays < 7 {
			recs = append(recs, "Wallet is newly created (less than 7 days old)")
		}
		if stats.TransactionCount < 5 {
			recs = append(recs, "Limited transaction history")
		}
		if stats.IsContract {
			recs = append(recs, "Address is a smart contract, not an externally owned account")
		}
		if stats.RapidFire {
			recs = append(recs, "Rapid-fire transaction pattern detected")
		}
	}

	return recs
}
