package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ecochain/ecochain/internal/auth"
	"github.com/ecochain/ecochain/internal/emission"
	"github.com/ecochain/ecochain/internal/ledger"
	"github.com/ecochain/ecochain/internal/registry/handler"
	"github.com/ecochain/ecochain/internal/registry/service"
	"github.com/ecochain/ecochain/internal/threat"
	"github.com/ecochain/ecochain/internal/token"
	"github.com/ecochain/ecochain/pkg/merkle"
)

var ctx = context.Background()

const issueBody = `{
	"sme_id": "SME-001",
	"sme_name": "Ravi Manufacturing Pvt Ltd",
	"month": "2024-01",
	"energy_kwh": 10000,
	"business_type": "Manufacturing",
	"renewable_pct": 0,
	"efficiency": 80
}`

func setupTokenRouter(t *testing.T, issuer *auth.Issuer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	l, err := ledger.New()
	if err != nil {
		t.Fatal(err)
	}
	svc := service.NewIssuanceService(emission.New(), token.NewFactory(), l, zap.NewNop())
	svc.SetVerifyBaseURL("https://verify.example.com")

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewTokenHandler(svc, issuer, zap.NewNop()).Register(v1)
	handler.NewLedgerHandler(l, zap.NewNop()).Register(v1)
	return r
}

func post(router *gin.Engine, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func issue(t *testing.T, router *gin.Engine) service.Issuance {
	t.Helper()
	w := post(router, "/api/v1/tokens", issueBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("issue: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var out service.Issuance
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestCalculate_200(t *testing.T) {
	router := setupTokenRouter(t, nil)

	w := post(router, "/api/v1/emissions/calculate",
		`{"energy_kwh": 10000, "business_type": "Manufacturing", "renewable_pct": 0, "efficiency": 80}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var a emission.Assessment
	json.Unmarshal(w.Body.Bytes(), &a)
	if a.EmissionsKg != 9200 || a.BaselineKg != 10500 || a.ReductionPercentage != 12.38 {
		t.Errorf("unexpected assessment: %+v", a)
	}
}

func TestCalculate_400(t *testing.T) {
	router := setupTokenRouter(t, nil)

	for name, body := range map[string]string{
		"bad json":       `{"energy_kwh": `,
		"out of range":   `{"energy_kwh": 100, "renewable_pct": 150, "efficiency": 80}`,
		"negative input": `{"energy_kwh": -5, "efficiency": 80}`,
	} {
		w := post(router, "/api/v1/emissions/calculate", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, w.Code)
		}
	}
}

func TestIssue_201_andLookup(t *testing.T) {
	router := setupTokenRouter(t, nil)
	out := issue(t, router)

	if out.Token == nil || out.Block == nil {
		t.Fatalf("incomplete issuance: %+v", out)
	}
	if !token.Verify(out.Token) {
		t.Error("issued token does not verify")
	}
	if out.VerificationURL == "" {
		t.Error("missing verification URL")
	}

	w := get(router, "/api/v1/tokens/"+out.Token.Hash)
	if w.Code != http.StatusOK {
		t.Fatalf("lookup: expected 200, got %d", w.Code)
	}
	var rec service.Record
	json.Unmarshal(w.Body.Bytes(), &rec)
	if rec.Token.TokenID != out.Token.TokenID {
		t.Errorf("lookup returned %s, want %s", rec.Token.TokenID, out.Token.TokenID)
	}

	w = get(router, "/api/v1/tokens/unknown")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown lookup: expected 404, got %d", w.Code)
	}

	w = get(router, "/api/v1/tokens")
	var list struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if list.Count != 1 {
		t.Errorf("expected 1 token listed, got %d", list.Count)
	}

	w = get(router, "/api/v1/ledger/proof/"+out.Token.Hash)
	if w.Code != http.StatusOK {
		t.Fatalf("proof: expected 200, got %d", w.Code)
	}
	var proof ledger.InclusionProof
	if err := json.Unmarshal(w.Body.Bytes(), &proof); err != nil {
		t.Fatal(err)
	}
	if !proof.VerifyPath() || proof.BlockIndex != 1 {
		t.Errorf("proof does not verify: %s", w.Body.String())
	}
}

func TestIssue_400_validation(t *testing.T) {
	router := setupTokenRouter(t, nil)

	w := post(router, "/api/v1/tokens", `{"sme_id": "", "sme_name": "x", "month": "2024-01", "energy_kwh": 1, "business_type": "Retail", "efficiency": 80}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing sme_id: expected 400, got %d", w.Code)
	}
	w = post(router, "/api/v1/tokens", `{"sme_id": "A", "sme_name": "x", "month": "2024-01", "energy_kwh": 1, "business_type": "Retail", "efficiency": 180}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad efficiency: expected 400, got %d", w.Code)
	}
}

func TestIssue_requiresIssuerToken(t *testing.T) {
	iss, err := auth.NewIssuer("0123456789abcdef0123456789abcdef", "ecochain-test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	router := setupTokenRouter(t, iss)

	w := post(router, "/api/v1/tokens", issueBody)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	bearer, err := iss.Issue("green-bank")
	if err != nil {
		t.Fatal(err)
	}
	w = post(router, "/api/v1/tokens", issueBody, "Authorization", "Bearer "+bearer)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d: %s", w.Code, w.Body.String())
	}

	// Reads and verification stay public.
	if w := get(router, "/api/v1/registry"); w.Code != http.StatusOK {
		t.Errorf("registry: expected 200, got %d", w.Code)
	}
}

func TestVerify_200(t *testing.T) {
	router := setupTokenRouter(t, nil)
	out := issue(t, router)

	raw, _ := json.Marshal(out.Token)
	w := post(router, "/api/v1/tokens/verify", string(raw))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var v service.TokenVerification
	json.Unmarshal(w.Body.Bytes(), &v)
	if !v.Verified {
		t.Errorf("expected verified, got %+v", v)
	}

	tampered := *out.Token
	tampered.EmissionsReducedKg *= 10
	raw, _ = json.Marshal(&tampered)
	w = post(router, "/api/v1/tokens/verify", string(raw))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	v = service.TokenVerification{}
	json.Unmarshal(w.Body.Bytes(), &v)
	if v.Verified || v.HashValid {
		t.Errorf("tampered token verified: %+v", v)
	}
}

func TestVerify_400(t *testing.T) {
	router := setupTokenRouter(t, nil)

	if w := post(router, "/api/v1/tokens/verify", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for garbage, got %d", w.Code)
	}
	if w := post(router, "/api/v1/tokens/verify", `{"token_id": "x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing hash, got %d", w.Code)
	}
}

func TestRegistry_proof(t *testing.T) {
	router := setupTokenRouter(t, nil)
	a := issue(t, router)
	b := issue(t, router)

	w := get(router, "/api/v1/registry")
	var reg service.Registry
	json.Unmarshal(w.Body.Bytes(), &reg)
	if reg.Count != 2 || reg.MerkleRoot != merkle.Root([]string{a.Token.Hash, b.Token.Hash}) {
		t.Fatalf("unexpected registry: %+v", reg)
	}

	w = get(router, "/api/v1/registry/proof/"+b.Token.Hash)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var p service.RegistryProof
	json.Unmarshal(w.Body.Bytes(), &p)
	if !merkle.Verify(b.Token.Hash, p.MerklePath, reg.MerkleRoot) {
		t.Error("registry proof does not verify")
	}

	if w := get(router, "/api/v1/registry/proof/unknown"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRateLimiter_429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.RateLimiter(ctx, 1, 2))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = get(r, "/x").Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}
}

func TestMetricsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.PrometheusMiddleware())
	r.GET("/metrics", handler.MetricsHandler())
	handler.SetChainValid(true)

	w := get(r, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("ecochain_chain_valid 1")) {
		t.Error("chain validity gauge missing from metrics output")
	}
}

func TestIssue_422_screeningRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, err := ledger.New()
	if err != nil {
		t.Fatal(err)
	}
	svc := service.NewIssuanceService(emission.New(), token.NewFactory(), l, zap.NewNop())
	svc.SetScreener(threat.NewRuleBasedScorer())
	r := gin.New()
	handler.NewTokenHandler(svc, nil, zap.NewNop()).Register(r.Group("/api/v1"))

	issue(t, r)
	w := post(r, "/api/v1/tokens", issueBody)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a duplicate period, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Risk threat.Report `json:"risk"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if !body.Risk.Rejected || len(body.Risk.Findings) == 0 {
		t.Errorf("expected the risk report in the response, got %s", w.Body.String())
	}
}

func TestCalculate_omittedEfficiencyDefaults(t *testing.T) {
	router := setupTokenRouter(t, nil)

	w := post(router, "/api/v1/emissions/calculate",
		`{"energy_kwh": 10000, "business_type": "Manufacturing"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var a emission.Assessment
	if err := json.Unmarshal(w.Body.Bytes(), &a); err != nil {
		t.Fatal(err)
	}
	// Efficiency 80 falls in the medium band: 10000 * 0.92 * 1.0.
	if a.EmissionsKg != 9200 {
		t.Errorf("expected 9200 kg with default efficiency, got %v", a.EmissionsKg)
	}

	w = post(router, "/api/v1/tokens", `{
		"sme_id": "SME-009",
		"sme_name": "Ravi Manufacturing Pvt Ltd",
		"month": "2024-01",
		"energy_kwh": 10000,
		"business_type": "Manufacturing"
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("issue: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var out service.Issuance
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Token.EmissionsKg != 9200 {
		t.Errorf("issued token: expected 9200 kg, got %v", out.Token.EmissionsKg)
	}
}

func TestCalculate_400_nonFiniteEnergy(t *testing.T) {
	router := setupTokenRouter(t, nil)

	// JSON cannot carry Inf; a value past float64 range fails to decode.
	w := post(router, "/api/v1/emissions/calculate", `{"energy_kwh": 1e999, "efficiency": 80}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
