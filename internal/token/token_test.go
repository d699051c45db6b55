package token_test

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ecochain/ecochain/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSuffix() string { return "abcd1234" }

func sampleFields() token.Fields {
	return token.Fields{
		SMEID:              "SME-001",
		SMEName:            "Ravi Manufacturing Pvt Ltd",
		BusinessType:       "Manufacturing",
		Month:              "2024-01",
		EnergyKWh:          10000,
		EmissionsKg:        9200,
		BaselineKg:         10500,
		EmissionsReducedKg: 1300,
		Timestamp:          "2024-01-31T12:00:00Z",
	}
}

// The expected values were produced with json.dumps(sort_keys=True) and
// hashlib.sha256 over the same fields and token ID.
func TestGenerate_matchesReferenceHash(t *testing.T) {
	f := token.NewFactory(token.WithIDSuffix(fixedSuffix))

	tok, err := f.Generate(sampleFields())
	require.NoError(t, err)

	assert.Equal(t, "GT-SME-001-2024-01-ABCD1234", tok.TokenID)
	assert.Equal(t, 12.38, tok.ReductionPercentage)
	assert.Equal(t, token.StatusVerified, tok.Status)
	assert.Equal(t, token.Version, tok.Version)

	content, err := tok.CanonicalContent()
	require.NoError(t, err)
	assert.Equal(t,
		`{"baseline_kg": 10500.0, "business_type": "Manufacturing", "emissions_kg": 9200.0, "emissions_reduced_kg": 1300.0, "energy_kwh": 10000.0, "month": "2024-01", "reduction_percentage": 12.38, "sme_id": "SME-001", "sme_name": "Ravi Manufacturing Pvt Ltd", "status": "verified", "timestamp": "2024-01-31T12:00:00Z", "token_id": "GT-SME-001-2024-01-ABCD1234", "version": "1.0"}`,
		string(content))
	assert.Equal(t, "c13203c0b5b3ff1a00017c11f2401009f46b19c4ce2cb8b91b37bff564666213", tok.Hash)
	assert.Equal(t, "d8ab6b46fb1b186ee98db23513f4db24aacf62e6befb6518b4101e0e159eab15", tok.Signature)
}

func TestComputeHash_unicodeAndExponentFloatsMatchReference(t *testing.T) {
	tok := &token.Token{
		TokenID:             "GT-SME-001-2024-01-ABCD1234",
		Version:             "1.0",
		SMEID:               "SME-002",
		SMEName:             "Café Ünïcode ☕",
		BusinessType:        "Retail",
		Month:               "2024-02",
		EnergyKWh:           1234.5,
		EmissionsKg:         0.00001,
		BaselineKg:          1e16,
		EmissionsReducedKg:  -12.5,
		ReductionPercentage: math.Copysign(0, -1),
		Timestamp:           "2024-02-29T08:15:30.123456789Z",
		Status:              "verified",
	}
	h, err := tok.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, "f9f94af8007c0754a80aca05724c32ad1af36ec1c428bf4b3032da0b7d03604f", h)
}

func TestGenerate_negativeReductionRoundsToNegativeZero(t *testing.T) {
	in := sampleFields()
	in.EmissionsReducedKg = -12.5
	in.BaselineKg = 1e16

	tok, err := token.NewFactory().Generate(in)
	require.NoError(t, err)
	assert.Equal(t, 0.0, tok.ReductionPercentage)
	assert.True(t, math.Signbit(tok.ReductionPercentage))
}

func TestGenerate_hashStableForFixedInput(t *testing.T) {
	f := token.NewFactory(token.WithIDSuffix(fixedSuffix))
	a, err := f.Generate(sampleFields())
	require.NoError(t, err)
	b, err := f.Generate(sampleFields())
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, a.Signature, b.Signature)
}

func TestGenerate_everyFieldAffectsHash(t *testing.T) {
	f := token.NewFactory(token.WithIDSuffix(fixedSuffix))
	base, err := f.Generate(sampleFields())
	require.NoError(t, err)

	mutations := map[string]func(*token.Fields){
		"sme_id":               func(in *token.Fields) { in.SMEID = "SME-999" },
		"sme_name":             func(in *token.Fields) { in.SMEName = "Other" },
		"business_type":        func(in *token.Fields) { in.BusinessType = "Retail" },
		"month":                func(in *token.Fields) { in.Month = "2024-02" },
		"energy_kwh":           func(in *token.Fields) { in.EnergyKWh = 10001 },
		"emissions_kg":         func(in *token.Fields) { in.EmissionsKg = 9201 },
		"baseline_kg":          func(in *token.Fields) { in.BaselineKg = 10501 },
		"emissions_reduced_kg": func(in *token.Fields) { in.EmissionsReducedKg = 1299 },
		"timestamp":            func(in *token.Fields) { in.Timestamp = "2024-01-31T12:00:01Z" },
	}
	for name, mutate := range mutations {
		in := sampleFields()
		mutate(&in)
		tok, err := f.Generate(in)
		require.NoError(t, err)
		assert.NotEqual(t, base.Hash, tok.Hash, name)
	}
}

func TestGenerate_defaultsTimestampToClock(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 891000000, time.FixedZone("IST", 19800))
	f := token.NewFactory(token.WithClock(func() time.Time { return at }))

	in := sampleFields()
	in.Timestamp = ""
	tok, err := f.Generate(in)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-03T23:36:07.891Z", tok.Timestamp)
}

func TestGenerate_randomIDsDiffer(t *testing.T) {
	f := token.NewFactory()
	a, err := f.Generate(sampleFields())
	require.NoError(t, err)
	b, err := f.Generate(sampleFields())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.TokenID, "GT-SME-001-2024-01-"))
	assert.Len(t, a.TokenID, len("GT-SME-001-2024-01-")+8)
	assert.Equal(t, strings.ToUpper(a.TokenID), a.TokenID)
	assert.NotEqual(t, a.TokenID, b.TokenID)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestGenerate_zeroBaseline(t *testing.T) {
	in := sampleFields()
	in.BaselineKg = 0
	tok, err := token.NewFactory().Generate(in)
	require.NoError(t, err)
	assert.Equal(t, 0.0, tok.ReductionPercentage)
}

func TestGenerate_requiredFields(t *testing.T) {
	f := token.NewFactory()
	for _, field := range []string{"sme_id", "sme_name", "business_type", "month"} {
		in := sampleFields()
		switch field {
		case "sme_id":
			in.SMEID = ""
		case "sme_name":
			in.SMEName = "  "
		case "business_type":
			in.BusinessType = ""
		case "month":
			in.Month = ""
		}
		_, err := f.Generate(in)
		var ferr *token.FieldError
		require.True(t, errors.As(err, &ferr), field)
		assert.Equal(t, field, ferr.Field)
	}
}

func TestGenerate_rejectsNonFiniteQuantities(t *testing.T) {
	in := sampleFields()
	in.EnergyKWh = math.Inf(1)
	_, err := token.NewFactory().Generate(in)
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	f := token.NewFactory()
	tok, err := f.Generate(sampleFields())
	require.NoError(t, err)

	assert.True(t, token.Verify(tok))
	assert.True(t, f.Verify(tok))
	assert.True(t, token.VerifySignature(tok))

	tampered := *tok
	tampered.EmissionsReducedKg = 5000
	assert.False(t, token.Verify(&tampered))
	assert.True(t, token.Verify(tok), "verification must not mutate the original")

	renamed := *tok
	renamed.SMEName = "Someone Else"
	assert.False(t, token.Verify(&renamed))

	noHash := *tok
	noHash.Hash = ""
	assert.False(t, token.Verify(&noHash))
	assert.False(t, token.Verify(nil))

	forged := *tok
	forged.Signature = strings.Repeat("0", 64)
	assert.True(t, token.Verify(&forged), "content hash ignores the signature")
	assert.False(t, token.VerifySignature(&forged))
}

func TestVerify_survivesJSONRoundTrip(t *testing.T) {
	tok, err := token.NewFactory().Generate(sampleFields())
	require.NoError(t, err)

	raw, err := json.Marshal(tok)
	require.NoError(t, err)
	back, err := token.Parse(raw)
	require.NoError(t, err)
	assert.True(t, token.Verify(back))

	payload, err := tok.Payload()
	require.NoError(t, err)
	fromPayload, err := token.Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, tok, fromPayload)
}

func TestToken_JSONKeysSorted(t *testing.T) {
	tok, err := token.NewFactory().Generate(sampleFields())
	require.NoError(t, err)
	raw, err := json.Marshal(tok)
	require.NoError(t, err)

	var keys []string
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	_, _ = dec.Token()
	for dec.More() {
		k, err := dec.Token()
		require.NoError(t, err)
		keys = append(keys, k.(string))
		var skip json.RawMessage
		require.NoError(t, dec.Decode(&skip))
	}
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
	assert.Len(t, keys, 15)
}

func TestGenerateBatch(t *testing.T) {
	f := token.NewFactory()
	second := sampleFields()
	second.Month = "2024-02"

	toks, err := f.GenerateBatch([]token.Fields{sampleFields(), second})
	require.NoError(t, err)
	require.Len(t, toks, 2)
	assert.Equal(t, "2024-02", toks[1].Month)

	bad := sampleFields()
	bad.SMEID = ""
	_, err = f.GenerateBatch([]token.Fields{sampleFields(), bad})
	var ferr *token.FieldError
	assert.True(t, errors.As(err, &ferr))
}

func TestMetadataAndVerificationURL(t *testing.T) {
	tok, err := token.NewFactory(token.WithIDSuffix(fixedSuffix)).Generate(sampleFields())
	require.NoError(t, err)

	md := tok.Metadata()
	assert.Equal(t, tok.TokenID, md.TokenID)
	assert.Equal(t, tok.Hash, md.Hash)
	assert.Equal(t, "verified", md.Status)

	assert.Equal(t,
		"https://verify.example.com/verify?token=GT-SME-001-2024-01-ABCD1234&hash=c13203c0b5b3ff1a",
		token.VerificationURL("https://verify.example.com/", tok))
}
