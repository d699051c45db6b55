package emission

// DefaultEfficiency is the equipment efficiency assumed when a request does
// not state one.
const DefaultEfficiency = 80.0

// Input is one period of a business's energy data. Efficiency is taken as
// given; decoders fill in DefaultEfficiency for an absent field (see
// NewInput).
type Input struct {
	EnergyKWh    float64 `json:"energy_kwh"`
	BusinessType string  `json:"business_type"`
	RenewablePct float64 `json:"renewable_pct"`
	Efficiency   float64 `json:"efficiency"`
	// CarbonPrice is USD per tonne for the savings estimate; 0 uses the default.
	CarbonPrice float64 `json:"carbon_price,omitempty"`
}

// NewInput returns an Input with every optional field at its default. JSON
// decoded into it keeps the defaults for fields the document omits.
func NewInput() Input {
	return Input{Efficiency: DefaultEfficiency}
}

// Assessment is the emission record for one Input together with the derived
// comparison figures.
type Assessment struct {
	EnergyKWh           float64   `json:"energy_kwh"`
	BusinessType        string    `json:"business_type"`
	EmissionsKg         float64   `json:"emissions_kg"`
	BaselineKg          float64   `json:"baseline_kg"`
	EmissionsReducedKg  float64   `json:"emissions_reduced_kg"`
	ReductionPercentage float64   `json:"reduction_percentage"`
	Breakdown           Breakdown `json:"breakdown"`
	CostSavingsUSD      float64   `json:"cost_savings_usd"`
	TreesEquivalent     float64   `json:"trees_equivalent"`
}

// Assess runs the full calculation for in. The baseline is computed over the
// same consumption so the reduction compares like with like. A business
// doing worse than its baseline gets a negative reduction.
func (m *Model) Assess(in Input) (*Assessment, error) {
	emissions, err := m.CalculateEmissions(in.EnergyKWh, in.BusinessType, in.RenewablePct, in.Efficiency)
	if err != nil {
		return nil, err
	}
	baseline := m.BaselineEmissions(in.EnergyKWh, in.BusinessType)
	reduced := Round2(baseline - emissions)

	return &Assessment{
		EnergyKWh:           in.EnergyKWh,
		BusinessType:        in.BusinessType,
		EmissionsKg:         emissions,
		BaselineKg:          baseline,
		EmissionsReducedKg:  reduced,
		ReductionPercentage: m.ReductionPercentage(emissions, baseline),
		Breakdown:           m.Breakdown(in.EnergyKWh, in.RenewablePct),
		CostSavingsUSD:      m.CostSavings(reduced, in.CarbonPrice),
		TreesEquivalent:     m.TreeEquivalent(reduced),
	}, nil
}
