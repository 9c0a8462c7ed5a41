// Package aml maps third-party AML screening results onto the risk
// engine's scoring scale and decides when an address must be blocked
// outright regardless of the blended score.
package aml

// Indicator is a single exposure flag returned by the screening vendor.
type Indicator struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Code   string `json:"code,omitempty"`
	Source string `json:"source,omitempty"`
}

// Signal is the normalized screening result for one address.
// Score is the vendor's 0-10 exposure score.
type Signal struct {
	Score      float64     `json:"score"`
	Indicators []Indicator `json:"indicators,omitempty"`
}

// Critical indicator types force a block on their own. High-severity
// types force a block only when two or more are present together.
var (
	criticalTypes = map[string]bool{
		"sanctions":           true,
		"stolen_funds":        true,
		"terrorism_financing": true,
		"child_exploitation":  true,
	}

	highTypes = map[string]bool{
		"mixer":      true,
		"ransomware": true,
		"scam":       true,
		"phishing":   true,
		"exploit":    true,
	}
)

// ComponentScore converts the vendor's 0-10 exposure score to the
// engine's 0-100 component scale.
func ComponentScore(score float64) float64 {
	switch {
	case score >= 8:
		return 100
	case score >= 6:
		return 85
	case score >= 4:
		return 60
	case score >= 2:
		return 35
	default:
		return 10
	}
}

// AutoBlock reports whether the screening result mandates an immediate
// block: any critical indicator, or at least two distinct high-severity
// indicator types.
func AutoBlock(s *Signal) bool {
	if s == nil {
		return false
	}
	highSeen := map[string]bool{}
	for _, ind := range s.Indicators {
		if criticalTypes[ind.Type] {
			return true
		}
		if highTypes[ind.Type] {
			highSeen[ind.Type] = true
		}
	}
	return len(highSeen) >= 2
}

// BlockReasons lists the indicator types that contributed to an
// auto-block decision, for audit trails.
func BlockReasons(s *Signal) []string {
	if s == nil {
		return nil
	}
	seen := map[string]bool{}
	var reasons []string
	for _, ind := range s.Indicators {
		if (criticalTypes[ind.Type] || highTypes[ind.Type]) && !seen[ind.Type] {
			seen[ind.Type] = true
			reasons = append(reasons, ind.Type)
		}
	}
	return reasons
}
