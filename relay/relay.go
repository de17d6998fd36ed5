package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"creditnet/journal"
	"creditnet/observability"
	"creditnet/observability/logging"
)

const cursorPrefix = "relay:"

// Relay drains the event journal into the configured webhook targets. Each
// target consumes through its own journal cursor, so a slow endpoint never
// stalls the others, and an envelope is only acked once it was delivered or
// deliberately abandoned.
type Relay struct {
	journal *journal.Journal
	targets []Target
	client  *http.Client
	logger  *slog.Logger
	metrics *observability.RelayMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option mutates relay configuration.
type Option func(*Relay)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Relay) {
		if client != nil {
			r.client = client
		}
	}
}

// WithLogger overrides the logger used for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New constructs a relay and spawns one delivery worker per target.
func New(j *journal.Journal, cfg Config, opts ...Option) (*Relay, error) {
	if j == nil {
		return nil, errors.New("relay: journal required")
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	relay := &Relay{
		journal: j,
		targets: append([]Target(nil), cfg.Targets...),
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
		metrics: observability.Relay(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(relay)
	}
	for _, target := range relay.targets {
		relay.logger.Info("relay target registered",
			"target", target.Name,
			"url", target.URL,
			logging.MaskField("authorization", target.Authorization),
		)
		relay.wg.Add(1)
		go relay.worker(target)
	}
	return relay, nil
}

// Close stops all delivery workers and waits for inflight requests to finish.
func (r *Relay) Close() {
	if r == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
}

func (r *Relay) worker(target Target) {
	defer r.wg.Done()
	consumer := cursorPrefix + target.Name
	from := uint64(1)
	if seq, ok, err := r.journal.Cursor(consumer); err != nil {
		r.logger.Error("relay cursor read failed", "target", target.Name, "error", err)
	} else if ok {
		from = seq + 1
	}
	stream := r.journal.Subscribe(r.ctx, from)
	for env := range stream {
		if target.Matches(env.Type) {
			if !r.deliver(target, env) {
				// Shutting down mid-delivery: leave the cursor behind so the
				// envelope is redelivered on the next start.
				return
			}
		}
		if err := r.journal.Ack(consumer, env.Seq); err != nil {
			r.logger.Error("relay ack failed", "target", target.Name, "seq", env.Seq, "error", err)
		}
		r.publishBacklog(target.Name, env.Seq)
	}
}

// deliver posts the envelope with retries. It returns false only when the
// relay is shutting down before the envelope could be delivered or abandoned.
func (r *Relay) deliver(target Target, env journal.Envelope) bool {
	body, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("relay envelope encode failed", "target", target.Name, "seq", env.Seq, "error", err)
		r.metrics.IncDropped(target.Name)
		return true
	}
	deliveryID := uuid.NewString()
	backoff := target.MinBackoff.Duration
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := r.send(target, env, body, deliveryID)
		r.metrics.ObserveDelivery(target.Name, time.Since(start), err)
		if err == nil {
			return true
		}
		if attempt >= target.MaxAttempts {
			r.logger.Warn("relay delivery abandoned",
				"target", target.Name, "seq", env.Seq, "attempts", attempt, "error", err)
			r.metrics.IncDropped(target.Name)
			return true
		}
		select {
		case <-time.After(backoff):
		case <-r.ctx.Done():
			return false
		}
		backoff = nextBackoff(backoff, target.MaxBackoff.Duration)
	}
}

func (r *Relay) send(target Target, env journal.Envelope, body []byte, deliveryID string) error {
	ctx, cancel := context.WithTimeout(r.ctx, target.Timeout.Duration)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Creditnet-Event", env.Type)
	req.Header.Set("X-Creditnet-Sequence", strconv.FormatUint(env.Seq, 10))
	req.Header.Set("X-Creditnet-Delivery", deliveryID)
	req.Header.Set("X-Creditnet-Digest", env.Digest)
	if target.Authorization != "" {
		req.Header.Set("Authorization", target.Authorization)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("delivery failed with status %d", resp.StatusCode)
}

func (r *Relay) publishBacklog(target string, acked uint64) {
	last, err := r.journal.LastSeq()
	if err != nil || last < acked {
		return
	}
	r.metrics.SetBacklog(target, last-acked)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
