package token

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ecochain/ecochain/internal/emission"
	"github.com/google/uuid"
)

// TimestampLayout is used for timestamps the factory fills in itself.
const TimestampLayout = time.RFC3339Nano

// Fields is the caller-supplied input for one token. Timestamp is optional
// and defaults to the factory clock.
type Fields struct {
	SMEID              string  `json:"sme_id"`
	SMEName            string  `json:"sme_name"`
	BusinessType       string  `json:"business_type"`
	Month              string  `json:"month"`
	EnergyKWh          float64 `json:"energy_kwh"`
	EmissionsKg        float64 `json:"emissions_kg"`
	BaselineKg         float64 `json:"baseline_kg"`
	EmissionsReducedKg float64 `json:"emissions_reduced_kg"`
	Timestamp          string  `json:"timestamp,omitempty"`
}

// FieldError reports a missing required input field.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("token field %q is required", e.Field)
}

// Factory issues tokens.
type Factory struct {
	version   string
	now       func() time.Time
	newSuffix func() string
}

// Option configures a Factory.
type Option func(*Factory)

// WithClock overrides the clock used for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.now = now }
}

// WithIDSuffix overrides how the unique tail of a token ID is produced.
// Replace the random default with a ledger-scoped counter or a content
// derived value when global uniqueness must be guaranteed.
func WithIDSuffix(next func() string) Option {
	return func(f *Factory) { f.newSuffix = next }
}

// NewFactory creates a Factory stamping Version on every token.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		version:   Version,
		now:       time.Now,
		newSuffix: randomSuffix,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// randomSuffix is the first 8 hex digits of a random UUID. Collisions are
// improbable, not impossible.
func randomSuffix() string {
	return uuid.New().String()[:8]
}

// Generate builds, hashes and signs a token from in.
func (f *Factory) Generate(in Fields) (*Token, error) {
	for _, req := range [...]struct{ name, value string }{
		{"sme_id", in.SMEID},
		{"sme_name", in.SMEName},
		{"business_type", in.BusinessType},
		{"month", in.Month},
	} {
		if strings.TrimSpace(req.value) == "" {
			return nil, &FieldError{Field: req.name}
		}
	}

	ts := in.Timestamp
	if ts == "" {
		ts = f.now().UTC().Format(TimestampLayout)
	}

	t := &Token{
		TokenID:             f.tokenID(in),
		Version:             f.version,
		SMEID:               in.SMEID,
		SMEName:             in.SMEName,
		BusinessType:        in.BusinessType,
		Month:               in.Month,
		EnergyKWh:           in.EnergyKWh,
		EmissionsKg:         in.EmissionsKg,
		BaselineKg:          in.BaselineKg,
		EmissionsReducedKg:  in.EmissionsReducedKg,
		ReductionPercentage: reductionPercentage(in.EmissionsReducedKg, in.BaselineKg),
		Timestamp:           ts,
		Status:              StatusVerified,
	}

	hash, err := t.ComputeHash()
	if err != nil {
		return nil, err
	}
	t.Hash = hash
	t.Signature = t.ComputeSignature()
	return t, nil
}

// GenerateBatch generates one token per entry, stopping at the first error.
func (f *Factory) GenerateBatch(in []Fields) ([]*Token, error) {
	out := make([]*Token, 0, len(in))
	for i, fields := range in {
		t, err := f.Generate(fields)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *Factory) tokenID(in Fields) string {
	return strings.ToUpper(fmt.Sprintf("GT-%s-%s-%s", in.SMEID, in.Month, f.newSuffix()))
}

func reductionPercentage(reduced, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return emission.Round2(reduced / baseline * 100)
}

// Verify reports whether t's stored hash matches its fields. A missing hash
// or any field change yields false.
func Verify(t *Token) bool {
	if t == nil || t.Hash == "" {
		return false
	}
	h, err := t.ComputeHash()
	if err != nil {
		return false
	}
	return h == t.Hash
}

// VerifySignature reports whether t's signature matches its id, timestamp
// and stored hash.
func VerifySignature(t *Token) bool {
	if t == nil || t.Signature == "" {
		return false
	}
	return t.ComputeSignature() == t.Signature
}

// VerificationURL returns a shareable link for t under baseURL.
func VerificationURL(baseURL string, t *Token) string {
	short := t.Hash
	if len(short) > 16 {
		short = short[:16]
	}
	return strings.TrimRight(baseURL, "/") + "/verify?token=" + url.QueryEscape(t.TokenID) + "&hash=" + short
}

// Verify is the package-level Verify, kept on Factory for callers that hold
// one.
func (f *Factory) Verify(t *Token) bool { return Verify(t) }
