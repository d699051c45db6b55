// Package emission computes CO2 emissions from energy consumption and
// compares them against industry baselines.
//
// All functions are pure: the same inputs always give bit-identical outputs,
// which is what lets issued tokens be re-hashed and verified later.
package emission

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Emission factors in kg CO2 per kWh.
const (
	GridFactor      = 0.92 // grid electricity
	RenewableFactor = 0.05 // solar, lifecycle
)

// Efficiency multipliers by equipment efficiency band.
const (
	HighEfficiencyMultiplier   = 0.85 // efficiency >= 85
	MediumEfficiencyMultiplier = 1.0  // efficiency >= 70
	LowEfficiencyMultiplier    = 1.2

	highEfficiencyThreshold   = 85
	mediumEfficiencyThreshold = 70
)

// DefaultBusinessType is used for baselines when the type is unknown.
const DefaultBusinessType = "default"

// DefaultCarbonPrice is the carbon price in USD per tonne used by CostSavings
// when none is given.
const DefaultCarbonPrice = 25.0

// CO2PerTreeYear is the CO2 an average tree absorbs per year, in kg.
const CO2PerTreeYear = 21.0

// industryBaselines is the typical emissions intensity per industry, kg/kWh.
var industryBaselines = map[string]float64{
	"Manufacturing":   1.05,
	"Textile":         1.15,
	"Food Processing": 0.95,
	"Retail":          0.85,
	"Technology":      0.90,
	"default":         1.0,
}

// ValidationError reports an out-of-range calculation input.
type ValidationError struct {
	Field string
	Value float64
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Msg)
}

// Model is the emission model. The zero value is ready to use.
type Model struct{}

// New returns a Model.
func New() *Model { return &Model{} }

// CalculateEmissions returns the emissions in kg for energyKWh of consumption
// with renewablePct percent sourced from renewables and equipment running at
// efficiency percent. The result is rounded to 2 decimals.
//
// businessType is accepted for symmetry with BaselineEmissions; industry
// variation is carried entirely by the baseline table.
func (m *Model) CalculateEmissions(energyKWh float64, businessType string, renewablePct, efficiency float64) (float64, error) {
	if math.IsNaN(energyKWh) || math.IsInf(energyKWh, 0) {
		return 0, &ValidationError{Field: "energy_kwh", Value: energyKWh, Msg: "must be a finite number"}
	}
	if energyKWh < 0 {
		return 0, &ValidationError{Field: "energy_kwh", Value: energyKWh, Msg: "energy consumption cannot be negative"}
	}
	if !(renewablePct >= 0 && renewablePct <= 100) {
		return 0, &ValidationError{Field: "renewable_pct", Value: renewablePct, Msg: "must be between 0 and 100"}
	}
	if !(efficiency >= 0 && efficiency <= 100) {
		return 0, &ValidationError{Field: "efficiency", Value: efficiency, Msg: "must be between 0 and 100"}
	}

	renewableFraction := renewablePct / 100
	gridFraction := 1 - renewableFraction

	gridEmissions := energyKWh * gridFraction * GridFactor
	renewableEmissions := energyKWh * renewableFraction * RenewableFactor

	adjusted := (gridEmissions + renewableEmissions) * EfficiencyMultiplier(efficiency)
	return Round2(adjusted * industryFactor(businessType)), nil
}

// BaselineEmissions returns what a typical business of businessType emits for
// energyKWh, rounded to 2 decimals. Unknown types use the default factor.
func (m *Model) BaselineEmissions(energyKWh float64, businessType string) float64 {
	return Round2(energyKWh * BaselineFactor(businessType))
}

// ReductionPercentage returns how far actual is below baseline, in percent,
// rounded to 2 decimals. It is negative when actual exceeds baseline and 0
// when baseline is 0.
func (m *Model) ReductionPercentage(actual, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return Round2((baseline - actual) / baseline * 100)
}

// Breakdown splits consumption and emissions by source.
type Breakdown struct {
	Grid      SourceBreakdown `json:"grid_electricity"`
	Renewable SourceBreakdown `json:"renewable"`
	TotalKWh  float64         `json:"total"`
}

// SourceBreakdown is the share of one energy source.
type SourceBreakdown struct {
	KWh       float64 `json:"kwh"`
	Emissions float64 `json:"emissions"`
}

// Breakdown returns the unadjusted per-source split for energyKWh.
func (m *Model) Breakdown(energyKWh, renewablePct float64) Breakdown {
	renewableFraction := renewablePct / 100
	gridFraction := 1 - renewableFraction
	return Breakdown{
		Grid: SourceBreakdown{
			KWh:       energyKWh * gridFraction,
			Emissions: energyKWh * gridFraction * GridFactor,
		},
		Renewable: SourceBreakdown{
			KWh:       energyKWh * renewableFraction,
			Emissions: energyKWh * renewableFraction * RenewableFactor,
		},
		TotalKWh: energyKWh,
	}
}

// CostSavings estimates the market value in USD of reducedKg of CO2 at
// carbonPrice USD per tonne. A non-positive price uses DefaultCarbonPrice.
func (m *Model) CostSavings(reducedKg, carbonPrice float64) float64 {
	if carbonPrice <= 0 {
		carbonPrice = DefaultCarbonPrice
	}
	return Round2(reducedKg / 1000 * carbonPrice)
}

// TreeEquivalent converts co2Kg into the number of trees needed to absorb it
// in a year.
func (m *Model) TreeEquivalent(co2Kg float64) float64 {
	return Round2(co2Kg / CO2PerTreeYear)
}

// EfficiencyMultiplier bands equipment efficiency into its multiplier.
func EfficiencyMultiplier(efficiency float64) float64 {
	switch {
	case efficiency >= highEfficiencyThreshold:
		return HighEfficiencyMultiplier
	case efficiency >= mediumEfficiencyThreshold:
		return MediumEfficiencyMultiplier
	default:
		return LowEfficiencyMultiplier
	}
}

// BaselineFactor returns the baseline intensity for businessType.
func BaselineFactor(businessType string) float64 {
	if f, ok := industryBaselines[businessType]; ok {
		return f
	}
	return industryBaselines[DefaultBusinessType]
}

// BusinessTypes lists the industries with a dedicated baseline, sorted.
func BusinessTypes() []string {
	out := make([]string, 0, len(industryBaselines)-1)
	for k := range industryBaselines {
		if k != DefaultBusinessType {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// industryFactor is a hook for per-industry adjustment of calculated
// emissions. It is 1 for every type.
func industryFactor(string) float64 { return 1.0 }

// Round2 rounds f to 2 decimals, half to even on the exact binary value.
func Round2(f float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(f, 'f', 2, 64), 64)
	if err != nil {
		return f
	}
	return r
}
