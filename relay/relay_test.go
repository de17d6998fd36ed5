package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"creditnet/journal"
)

type capturedRequest struct {
	event    string
	seq      string
	delivery string
	digest   string
	auth     string
	body     []byte
}

type captureServer struct {
	mu       sync.Mutex
	requests []capturedRequest
	// statusFn decides the response code per request; nil means 204 for all.
	statusFn func(seq string, seen int) int
}

func (c *captureServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		c.mu.Lock()
		captured := capturedRequest{
			event:    req.Header.Get("X-Creditnet-Event"),
			seq:      req.Header.Get("X-Creditnet-Sequence"),
			delivery: req.Header.Get("X-Creditnet-Delivery"),
			digest:   req.Header.Get("X-Creditnet-Digest"),
			auth:     req.Header.Get("Authorization"),
			body:     body,
		}
		seen := 0
		for _, prev := range c.requests {
			if prev.seq == captured.seq {
				seen++
			}
		}
		c.requests = append(c.requests, captured)
		status := http.StatusNoContent
		if c.statusFn != nil {
			status = c.statusFn(captured.seq, seen)
		}
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *captureServer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *captureServer) snapshot() []capturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capturedRequest(nil), c.requests...)
}

func newRelayJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.NewJournal(filepath.Join(t.TempDir(), "journal.db"), nil)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastTarget(name, url string) Target {
	return Target{
		Name:        name,
		URL:         url,
		Timeout:     Duration{Duration: 500 * time.Millisecond},
		MaxAttempts: 3,
		MinBackoff:  Duration{Duration: 10 * time.Millisecond},
		MaxBackoff:  Duration{Duration: 20 * time.Millisecond},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRelayDeliversBacklogWithHeaders(t *testing.T) {
	j := newRelayJournal(t)
	if _, err := j.Append("credit.loan_issued", map[string]string{"loanId": "1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := j.Append("credit.loan_repaid", map[string]string{"loanId": "1"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	capture := &captureServer{}
	srv := httptest.NewServer(capture.handler())
	defer srv.Close()

	target := fastTarget("hooks", srv.URL)
	target.Authorization = "Bearer s3cr3t"
	relay, err := New(j, Config{Targets: []Target{target}}, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	defer relay.Close()

	waitFor(t, 2*time.Second, func() bool { return capture.count() >= 2 }, "expected two deliveries")

	requests := capture.snapshot()
	if requests[0].event != "credit.loan_issued" || requests[0].seq != "1" {
		t.Fatalf("unexpected first delivery: %+v", requests[0])
	}
	if requests[1].event != "credit.loan_repaid" || requests[1].seq != "2" {
		t.Fatalf("unexpected second delivery: %+v", requests[1])
	}
	for _, req := range requests {
		if req.delivery == "" {
			t.Fatalf("delivery id missing on %+v", req)
		}
		if len(req.digest) != 64 {
			t.Fatalf("digest header missing on %+v", req)
		}
		if req.auth != "Bearer s3cr3t" {
			t.Fatalf("authorization header missing on %+v", req)
		}
		var env journal.Envelope
		if err := json.Unmarshal(req.body, &env); err != nil {
			t.Fatalf("body decode: %v", err)
		}
		if strconv.FormatUint(env.Seq, 10) != req.seq || env.Digest != req.digest {
			t.Fatalf("body does not match headers: %+v vs %+v", env, req)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		seq, ok, err := j.Cursor("relay:hooks")
		return err == nil && ok && seq == 2
	}, "expected cursor at 2")
}

func TestRelayFiltersEventTypes(t *testing.T) {
	j := newRelayJournal(t)
	for _, eventType := range []string{"credit.loan_issued", "credit.loan_repaid", "credit.loan_issued"} {
		if _, err := j.Append(eventType, nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	capture := &captureServer{}
	srv := httptest.NewServer(capture.handler())
	defer srv.Close()

	target := fastTarget("issued-only", srv.URL)
	target.Events = []string{"credit.loan_issued"}
	relay, err := New(j, Config{Targets: []Target{target}}, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	defer relay.Close()

	// Filtered envelopes still advance the cursor so backlog cannot grow.
	waitFor(t, 2*time.Second, func() bool {
		seq, ok, err := j.Cursor("relay:issued-only")
		return err == nil && ok && seq == 3
	}, "expected cursor at 3")

	requests := capture.snapshot()
	if len(requests) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(requests))
	}
	if requests[0].seq != "1" || requests[1].seq != "3" {
		t.Fatalf("unexpected delivered sequences: %+v", requests)
	}
}

func TestRelayRetriesUntilSuccess(t *testing.T) {
	j := newRelayJournal(t)
	if _, err := j.Append("credit.loan_closed", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	capture := &captureServer{statusFn: func(seq string, seen int) int {
		if seen < 2 {
			return http.StatusBadGateway
		}
		return http.StatusOK
	}}
	srv := httptest.NewServer(capture.handler())
	defer srv.Close()

	relay, err := New(j, Config{Targets: []Target{fastTarget("flaky", srv.URL)}}, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	defer relay.Close()

	waitFor(t, 2*time.Second, func() bool {
		seq, ok, err := j.Cursor("relay:flaky")
		return err == nil && ok && seq == 1
	}, "expected cursor at 1 after retries")

	requests := capture.snapshot()
	if len(requests) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(requests))
	}
	// All attempts for one envelope share a delivery id.
	if requests[0].delivery != requests[1].delivery || requests[1].delivery != requests[2].delivery {
		t.Fatalf("delivery id changed between retries: %+v", requests)
	}
}

func TestRelayAbandonsAfterMaxAttempts(t *testing.T) {
	j := newRelayJournal(t)
	if _, err := j.Append("credit.loan_issued", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := j.Append("credit.loan_repaid", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	capture := &captureServer{statusFn: func(seq string, seen int) int {
		if seq == "1" {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	}}
	srv := httptest.NewServer(capture.handler())
	defer srv.Close()

	target := fastTarget("limited", srv.URL)
	target.MaxAttempts = 2
	relay, err := New(j, Config{Targets: []Target{target}}, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	defer relay.Close()

	waitFor(t, 2*time.Second, func() bool {
		seq, ok, err := j.Cursor("relay:limited")
		return err == nil && ok && seq == 2
	}, "expected cursor to pass the abandoned envelope")

	var first, second int
	for _, req := range capture.snapshot() {
		switch req.seq {
		case "1":
			first++
		case "2":
			second++
		}
	}
	if first != 2 {
		t.Fatalf("expected 2 attempts for abandoned envelope, got %d", first)
	}
	if second != 1 {
		t.Fatalf("expected 1 attempt for delivered envelope, got %d", second)
	}
}

func TestRelayResumesFromCursor(t *testing.T) {
	j := newRelayJournal(t)
	for i := 0; i < 3; i++ {
		if _, err := j.Append("credit.pool_deposited", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := j.Ack("relay:resume", 2); err != nil {
		t.Fatalf("ack: %v", err)
	}

	capture := &captureServer{}
	srv := httptest.NewServer(capture.handler())
	defer srv.Close()

	relay, err := New(j, Config{Targets: []Target{fastTarget("resume", srv.URL)}}, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	defer relay.Close()

	waitFor(t, 2*time.Second, func() bool { return capture.count() >= 1 }, "expected one delivery")
	requests := capture.snapshot()
	if len(requests) != 1 || requests[0].seq != "3" {
		t.Fatalf("expected only sequence 3, got %+v", requests)
	}
}

func TestLoadConfigDefaultsAndValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	raw := `targets:
  - name: hooks
    url: https://example.com/hooks
    events:
      - credit.loan_issued
    authorization: Bearer token
    timeout: 5s
    max_attempts: 2
    min_backoff: 100ms
    max_backoff: 1s
  - name: audit
    url: http://audit.internal/events
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(cfg.Targets))
	}
	hooks := cfg.Targets[0]
	if hooks.Timeout.Duration != 5*time.Second || hooks.MaxAttempts != 2 {
		t.Fatalf("unexpected hooks target: %+v", hooks)
	}
	if hooks.MinBackoff.Duration != 100*time.Millisecond || hooks.MaxBackoff.Duration != time.Second {
		t.Fatalf("unexpected hooks backoff: %+v", hooks)
	}
	if !hooks.Matches("credit.loan_issued") || hooks.Matches("credit.loan_repaid") {
		t.Fatalf("unexpected hooks filter behaviour")
	}
	audit := cfg.Targets[1]
	if audit.Timeout.Duration != defaultTimeout || audit.MaxAttempts != defaultMaxAttempts {
		t.Fatalf("defaults not applied: %+v", audit)
	}
	if audit.MinBackoff.Duration != defaultMinBackoff || audit.MaxBackoff.Duration != defaultMaxBackoff {
		t.Fatalf("backoff defaults not applied: %+v", audit)
	}
	if !audit.Matches("anything.at.all") {
		t.Fatalf("empty filter should match every event")
	}

	for name, invalid := range map[string]string{
		"missing name": "targets:\n  - url: https://example.com\n",
		"duplicate":    "targets:\n  - name: a\n    url: https://example.com\n  - name: a\n    url: https://example.com\n",
		"bad scheme":   "targets:\n  - name: a\n    url: ftp://example.com\n",
	} {
		if err := os.WriteFile(path, []byte(invalid), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected error for %s config", name)
		}
	}
}
