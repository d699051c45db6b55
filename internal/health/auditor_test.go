package health

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/ecochain/ecochain/internal/ledger"
)

// ── Stubs ────────────────────────────────────────────────────────────────

// flakyLedger wraps a real ledger and fails IsValid on demand.
type flakyLedger struct {
	ledger.Ledger
	mu      sync.Mutex
	invalid bool
	err     error
}

func (f *flakyLedger) set(invalid bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalid, f.err = invalid, err
}

func (f *flakyLedger) IsValid(ctx context.Context) (bool, error) {
	f.mu.Lock()
	invalid, err := f.invalid, f.err
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	if invalid {
		return false, nil
	}
	return f.Ledger.IsValid(ctx)
}

func newFlaky(t *testing.T) *flakyLedger {
	t.Helper()
	l, err := ledger.New()
	if err != nil {
		t.Fatal(err)
	}
	return &flakyLedger{Ledger: l}
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCheck_healthyChain(t *testing.T) {
	a := New(newFlaky(t), Config{}, zap.NewNop())
	if a.Ready() {
		t.Error("an unaudited ledger must not be ready")
	}

	r := a.Check(context.Background())
	if r.Status != StatusHealthy || !r.Valid || r.Blocks != 1 || r.MerkleRoot == "" {
		t.Errorf("unexpected report: %+v", r)
	}
	if !a.Ready() {
		t.Error("expected ready after a passing audit")
	}
}

func TestCheck_degradesAfterThreshold(t *testing.T) {
	l := newFlaky(t)
	l.set(true, nil)

	var alerts []string
	var recorded []bool
	a := New(l, Config{FailThreshold: 3}, zap.NewNop())
	a.SetAlert(func(_ context.Context, status string, _ Report) { alerts = append(alerts, status) })
	a.SetMetricsRecord(func(valid bool) { recorded = append(recorded, valid) })

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if r := a.Check(ctx); r.Status == StatusDegraded {
			t.Fatalf("degraded too early after %d failures", i+1)
		}
	}
	r := a.Check(ctx)
	if r.Status != StatusDegraded || r.ConsecutiveFailures != 3 {
		t.Errorf("expected degraded at threshold, got %+v", r)
	}
	a.Check(ctx)

	if len(alerts) != 1 || alerts[0] != StatusDegraded {
		t.Errorf("expected exactly one degraded alert, got %v", alerts)
	}
	if len(recorded) != 4 || recorded[0] {
		t.Errorf("expected 4 failed metric records, got %v", recorded)
	}
}

func TestCheck_recoversOnSuccess(t *testing.T) {
	l := newFlaky(t)
	l.set(false, errors.New("connection refused"))

	var alerts []string
	a := New(l, Config{FailThreshold: 1}, zap.NewNop())
	a.SetAlert(func(_ context.Context, status string, _ Report) { alerts = append(alerts, status) })

	ctx := context.Background()
	r := a.Check(ctx)
	if r.Status != StatusDegraded || r.Error == "" {
		t.Fatalf("expected degraded with error, got %+v", r)
	}
	if a.Ready() {
		t.Error("degraded ledger must not be ready")
	}

	l.set(false, nil)
	r = a.Check(ctx)
	if r.Status != StatusHealthy || r.ConsecutiveFailures != 0 {
		t.Errorf("expected healthy after recovery, got %+v", r)
	}
	if len(alerts) != 2 || alerts[1] != StatusHealthy {
		t.Errorf("expected degraded then healthy alerts, got %v", alerts)
	}
}

func TestStart_stopsOnCancel(t *testing.T) {
	a := New(newFlaky(t), Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Start(ctx)
		close(done)
	}()
	cancel()
	<-done
}
