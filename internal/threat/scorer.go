// Package threat screens token issuance requests for signs of an implausible
// or double-counted emissions claim. It scores a claim against a rule set and
// can reject high-risk claims before they are written to the ledger.
package threat

import (
	"context"

	"github.com/ecochain/ecochain/internal/emission"
)

// Finding is a single rule match returned by the scorer.
type Finding struct {
	Rule        string  `json:"rule"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Report is the output of a screening run.
type Report struct {
	// Score is the aggregate risk score (0–100).
	Score int `json:"score"`

	// Severity is a human-readable label derived from Score:
	//   0–14   → "none"
	//   15–34  → "low"
	//   35–64  → "medium"
	//   65–84  → "high"
	//   85–100 → "critical"
	Severity string `json:"severity"`

	// Findings lists every rule that triggered.
	Findings []Finding `json:"findings"`

	// Rejected is true when Score ≥ 85. Claims with Rejected=true should not
	// be issued.
	Rejected bool `json:"rejected"`
}

// Claim is what a business asks to have tokenised, together with its
// assessment and how many tokens it already holds for the same period.
type Claim struct {
	SMEID        string
	Month        string
	Input        emission.Input
	Assessment   *emission.Assessment
	PriorPeriods int
}

// Scorer analyses an issuance claim for risk indicators.
type Scorer interface {
	Score(ctx context.Context, c Claim) (*Report, error)
}

// severityLabel maps a 0–100 score to a severity string.
func severityLabel(score int) string {
	switch {
	case score >= 85:
		return "critical"
	case score >= 65:
		return "high"
	case score >= 35:
		return "medium"
	case score >= 15:
		return "low"
	default:
		return "none"
	}
}
