// Package health runs a periodic integrity audit of the ledger and reports
// its outcome for readiness probes.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ecochain/ecochain/internal/ledger"
)

// Status values reported by the auditor.
const (
	StatusUnknown  = "unknown"
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Config holds audit configuration.
type Config struct {
	Interval      time.Duration
	CheckTimeout  time.Duration
	FailThreshold int
}

// MetricsRecordFunc is an optional callback for recording each audit result.
type MetricsRecordFunc func(valid bool)

// AlertFunc is an optional callback fired on healthy/degraded transitions.
type AlertFunc func(ctx context.Context, status string, r Report)

// Report is the outcome of the most recent audit.
type Report struct {
	Status              string    `json:"status"`
	Valid               bool      `json:"valid"`
	Blocks              int       `json:"blocks"`
	MerkleRoot          string    `json:"merkle_root,omitempty"`
	CheckedAt           time.Time `json:"checked_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Error               string    `json:"error,omitempty"`
}

// Auditor re-validates the whole chain on an interval. A chain is reported
// degraded only after FailThreshold consecutive failed audits, so one
// transient storage error does not flap readiness.
type Auditor struct {
	ledger    ledger.Ledger
	cfg       Config
	onMetrics MetricsRecordFunc
	onAlert   AlertFunc
	logger    *zap.Logger

	mu     sync.RWMutex
	report Report
}

// New creates a new Auditor.
func New(l ledger.Ledger, cfg Config, logger *zap.Logger) *Auditor {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 30 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 1
	}
	return &Auditor{
		ledger: l,
		cfg:    cfg,
		logger: logger,
		report: Report{Status: StatusUnknown},
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (a *Auditor) SetMetricsRecord(fn MetricsRecordFunc) {
	a.onMetrics = fn
}

// SetAlert configures the transition callback.
func (a *Auditor) SetAlert(fn AlertFunc) {
	a.onAlert = fn
}

// Start audits on every interval until ctx is done. Call Check first for an
// immediate result.
func (a *Auditor) Start(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Auditor) check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, a.cfg.CheckTimeout)
	defer cancel()
	a.Check(checkCtx)
}

// Check runs one audit and returns the updated report.
func (a *Auditor) Check(ctx context.Context) Report {
	valid, err := a.ledger.IsValid(ctx)
	var (
		n    int
		root string
	)
	if err == nil && valid {
		n, err = a.ledger.Len(ctx)
		if err == nil {
			root, err = a.ledger.MerkleRoot(ctx)
		}
	}
	ok := err == nil && valid

	if a.onMetrics != nil {
		a.onMetrics(ok)
	}

	a.mu.Lock()
	prev := a.report
	next := Report{
		Status:     prev.Status,
		Valid:      ok,
		Blocks:     n,
		MerkleRoot: root,
		CheckedAt:  time.Now().UTC(),
	}
	if err != nil {
		next.Error = err.Error()
	}
	if ok {
		next.Status = StatusHealthy
	} else {
		next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		if next.ConsecutiveFailures >= a.cfg.FailThreshold {
			next.Status = StatusDegraded
		}
	}
	a.report = next
	a.mu.Unlock()

	switch {
	case next.Status == StatusDegraded && prev.Status != StatusDegraded:
		a.logger.Error("health: ledger degraded",
			zap.Int("fail_count", next.ConsecutiveFailures),
			zap.Bool("valid", valid),
			zap.Error(err),
		)
		if a.onAlert != nil {
			a.onAlert(ctx, StatusDegraded, next)
		}
	case next.Status == StatusHealthy && prev.Status == StatusDegraded:
		a.logger.Info("health: ledger recovered", zap.Int("blocks", n))
		if a.onAlert != nil {
			a.onAlert(ctx, StatusHealthy, next)
		}
	case !ok:
		a.logger.Warn("health: ledger audit failed",
			zap.Int("fail_count", next.ConsecutiveFailures),
			zap.Error(err),
		)
	}
	return next
}

// Report returns the most recent audit outcome.
func (a *Auditor) Report() Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.report
}

// Ready reports whether the last audit left the ledger serviceable. A ledger
// that has not been audited yet is not ready.
func (a *Auditor) Ready() bool {
	return a.Report().Status == StatusHealthy
}
