package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ecochain/ecochain/internal/ledger"
	"github.com/ecochain/ecochain/internal/registry/handler"
)

func setupLedgerRouter(t *testing.T) (*gin.Engine, *ledger.MemoryLedger) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	l, err := ledger.New()
	if err != nil {
		t.Fatal(err)
	}
	h := handler.NewLedgerHandler(l, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1)
	return r, l
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLedgerOverview_200(t *testing.T) {
	router, _ := setupLedgerRouter(t)

	w := get(router, "/api/v1/ledger")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ledger.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalBlocks != 1 {
		t.Errorf("expected 1 block (genesis), got %d", resp.TotalBlocks)
	}
	if !resp.IsValid {
		t.Error("expected is_valid=true")
	}
}

func TestLedgerVerify_200(t *testing.T) {
	router, l := setupLedgerRouter(t)
	if _, err := l.Append(ctx, map[string]any{"note": "x"}); err != nil {
		t.Fatal(err)
	}

	w := get(router, "/api/v1/ledger/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp["valid"])
	}
	if resp["blocks"] != float64(2) {
		t.Errorf("expected blocks=2, got %v", resp["blocks"])
	}
}

func TestLedgerGetBlock_200_genesis(t *testing.T) {
	router, _ := setupLedgerRouter(t)

	w := get(router, "/api/v1/ledger/blocks/0")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var b ledger.Block
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatal(err)
	}
	if b.PreviousHash != ledger.GenesisPreviousHash {
		t.Errorf("expected genesis previous_hash, got %q", b.PreviousHash)
	}
}

func TestLedgerGetBlock_404(t *testing.T) {
	router, _ := setupLedgerRouter(t)

	w := get(router, "/api/v1/ledger/blocks/999")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLedgerGetBlock_400(t *testing.T) {
	router, _ := setupLedgerRouter(t)

	for _, idx := range []string{"abc", "-1"} {
		w := get(router, "/api/v1/ledger/blocks/"+idx)
		if w.Code != http.StatusBadRequest {
			t.Errorf("idx %q: expected 400, got %d", idx, w.Code)
		}
	}
}

func TestLedgerExport_roundTrips(t *testing.T) {
	router, l := setupLedgerRouter(t)
	if _, err := l.Append(ctx, map[string]any{"note": "x"}); err != nil {
		t.Fatal(err)
	}

	w := get(router, "/api/v1/ledger/export")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	blocks, err := ledger.Import(w.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	imported, err := ledger.NewFromBlocks(blocks)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := imported.IsValid(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || len(blocks) != 2 {
		t.Errorf("export did not round-trip: valid=%v blocks=%d", ok, len(blocks))
	}
}

func TestLedgerProof_404(t *testing.T) {
	router, _ := setupLedgerRouter(t)

	w := get(router, "/api/v1/ledger/proof/unknown")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["verified"] != false {
		t.Errorf("expected verified=false, got %v", resp["verified"])
	}
}
