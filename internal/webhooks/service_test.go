package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type received struct {
	mu     sync.Mutex
	events []Event
	bodies [][]byte
	sigs   []string
}

func (r *received) snapshot() ([]Event, [][]byte, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events, r.bodies, r.sigs
}

func receiver(t *testing.T, status func(n int32) int) (*httptest.Server, *received, *atomic.Int32) {
	t.Helper()
	rec := &received{}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var ev Event
		json.Unmarshal(body, &ev)
		rec.mu.Lock()
		rec.events = append(rec.events, ev)
		rec.bodies = append(rec.bodies, body)
		rec.sigs = append(rec.sigs, r.Header.Get(SignatureHeader))
		rec.mu.Unlock()
		w.WriteHeader(status(n))
	}))
	t.Cleanup(srv.Close)
	return srv, rec, &calls
}

func ok(int32) int { return http.StatusOK }

func TestNewDispatcher_requiresURL(t *testing.T) {
	if _, err := NewDispatcher([]Subscription{{Events: []string{EventTokenIssued}}}, zap.NewNop()); err == nil {
		t.Error("expected error for subscription without url")
	}
}

func TestDispatch_signedDelivery(t *testing.T) {
	srv, rec, _ := receiver(t, ok)
	d, err := NewDispatcher([]Subscription{{URL: srv.URL, Secret: "s3cret"}}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	d.Dispatch(context.Background(), EventTokenIssued, map[string]string{"token_id": "GT-1"})
	d.Wait()
	events, bodies, sigs := rec.snapshot()

	if len(events) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(events))
	}
	if events[0].Type != EventTokenIssued || events[0].Payload["token_id"] != "GT-1" {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if !VerifySignature(bodies[0], "s3cret", sigs[0]) {
		t.Errorf("signature %q does not verify", sigs[0])
	}
	if VerifySignature(bodies[0], "other", sigs[0]) {
		t.Error("signature must not verify under another secret")
	}
}

func TestDispatch_filtersByEvent(t *testing.T) {
	srv, rec, _ := receiver(t, ok)
	d, _ := NewDispatcher([]Subscription{{URL: srv.URL, Events: []string{EventLedgerDegraded}}}, zap.NewNop())

	d.Dispatch(context.Background(), EventTokenIssued, nil)
	d.Dispatch(context.Background(), EventLedgerDegraded, nil)
	d.Wait()
	events, _, sigs := rec.snapshot()

	if len(events) != 1 || events[0].Type != EventLedgerDegraded {
		t.Fatalf("expected only the subscribed event, got %+v", events)
	}
	if sigs[0] != "" {
		t.Error("unsigned subscription must not send a signature header")
	}
}

func TestDispatch_retriesThenRecords(t *testing.T) {
	srv, _, calls := receiver(t, func(n int32) int {
		if n < 3 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})
	d, _ := NewDispatcher([]Subscription{{URL: srv.URL}}, zap.NewNop())
	d.SetRetryDelays([]time.Duration{0, time.Millisecond, time.Millisecond})

	var mu sync.Mutex
	var outcomes []bool
	d.SetMetricsRecorder(func(success bool) {
		mu.Lock()
		outcomes = append(outcomes, success)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, EventTokenIssued, nil)
	cancel() // delivery outlives the caller's context
	d.Wait()

	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if len(outcomes) != 3 || outcomes[0] || !outcomes[2] {
		t.Errorf("unexpected outcomes %v", outcomes)
	}
}
