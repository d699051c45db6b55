package threat

import (
	"context"
	"fmt"
	"time"
)

// monthLayout is the reporting period format, e.g. 2024-01.
const monthLayout = "2006-01"

// ruleFunc inspects a claim and returns zero or more Findings if its rule
// matches.
type ruleFunc func(c Claim, now time.Time) []Finding

// RuleBasedScorer is the default Scorer implementation. It runs a fixed set of
// rules against the claim and accumulates a score.
type RuleBasedScorer struct {
	rules []ruleFunc
	now   func() time.Time
}

// NewRuleBasedScorer returns a RuleBasedScorer loaded with the default rule set.
func NewRuleBasedScorer() *RuleBasedScorer {
	s := &RuleBasedScorer{now: time.Now}
	s.rules = []ruleFunc{
		ruleDuplicatePeriod,
		ruleFuturePeriod,
		ruleMonthFormat,
		ruleExtremeReduction,
		ruleIdealInputs,
		ruleNoConsumption,
	}
	return s
}

// WithClock overrides the clock used for period checks.
func (s *RuleBasedScorer) WithClock(now func() time.Time) *RuleBasedScorer {
	s.now = now
	return s
}

// Score implements Scorer.
func (s *RuleBasedScorer) Score(_ context.Context, c Claim) (*Report, error) {
	now := s.now().UTC()
	var findings []Finding
	for _, r := range s.rules {
		findings = append(findings, r(c, now)...)
	}

	total := 0
	for _, f := range findings {
		total += int(f.Confidence * 100)
	}
	if total > 100 {
		total = 100
	}

	if findings == nil {
		findings = []Finding{}
	}

	return &Report{
		Score:    total,
		Severity: severityLabel(total),
		Findings: findings,
		Rejected: total >= 85,
	}, nil
}

// ── Rules ─────────────────────────────────────────────────────────────────────

// ruleDuplicatePeriod flags a second token for the same business and month,
// which would count the same reduction twice.
func ruleDuplicatePeriod(c Claim, _ time.Time) []Finding {
	if c.PriorPeriods == 0 {
		return nil
	}
	return []Finding{{
		Rule:        "duplicate_period",
		Description: fmt.Sprintf("%s already holds %d token(s) for %s", c.SMEID, c.PriorPeriods, c.Month),
		Confidence:  0.9,
	}}
}

// ruleFuturePeriod flags a reporting month that has not started yet.
func ruleFuturePeriod(c Claim, now time.Time) []Finding {
	m, err := time.Parse(monthLayout, c.Month)
	if err != nil {
		return nil
	}
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if !m.After(current) {
		return nil
	}
	return []Finding{{
		Rule:        "future_period",
		Description: "Reporting month " + c.Month + " has not started",
		Confidence:  0.9,
	}}
}

func ruleMonthFormat(c Claim, _ time.Time) []Finding {
	if _, err := time.Parse(monthLayout, c.Month); err == nil {
		return nil
	}
	return []Finding{{
		Rule:        "month_format",
		Description: "Month " + c.Month + " is not in YYYY-MM form",
		Confidence:  0.2,
	}}
}

// extremeReductionPct is well above what efficiency improvements alone
// deliver; reaching it needs a mostly renewable supply.
const extremeReductionPct = 60.0

func ruleExtremeReduction(c Claim, _ time.Time) []Finding {
	if c.Assessment == nil || c.Assessment.ReductionPercentage < extremeReductionPct {
		return nil
	}
	return []Finding{{
		Rule:        "extreme_reduction",
		Description: fmt.Sprintf("Claimed reduction of %.2f%% is unusually high", c.Assessment.ReductionPercentage),
		Confidence:  0.4,
	}}
}

// ruleIdealInputs flags a fully renewable supply reported at perfect
// efficiency, a combination more often typed than measured.
func ruleIdealInputs(c Claim, _ time.Time) []Finding {
	if c.Input.RenewablePct < 100 || c.Input.Efficiency < 100 {
		return nil
	}
	return []Finding{{
		Rule:        "ideal_inputs",
		Description: "100% renewable at 100% efficiency",
		Confidence:  0.2,
	}}
}

func ruleNoConsumption(c Claim, _ time.Time) []Finding {
	if c.Input.EnergyKWh > 0 {
		return nil
	}
	return []Finding{{
		Rule:        "no_consumption",
		Description: "No energy consumption reported for the period",
		Confidence:  0.3,
	}}
}
