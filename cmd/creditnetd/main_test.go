package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"creditnet/core/events"
	"creditnet/core/genesis"
	"creditnet/core/state"
	"creditnet/storage"
)

func TestResolveGenesisPathPrecedence(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key != genesisPathEnv {
			t.Fatalf("unexpected lookup key: %s", key)
		}
		return "env-path", true
	}

	t.Run("cli flag takes precedence", func(t *testing.T) {
		if path := resolveGenesisPath("cli-path", "cfg-path", lookup); path != "cli-path" {
			t.Fatalf("unexpected path: got %q want %q", path, "cli-path")
		}
	})

	t.Run("environment overrides config", func(t *testing.T) {
		if path := resolveGenesisPath("", "cfg-path", lookup); path != "env-path" {
			t.Fatalf("unexpected path: got %q want %q", path, "env-path")
		}
	})

	t.Run("config used when no other sources", func(t *testing.T) {
		emptyLookup := func(string) (string, bool) { return "", false }
		if path := resolveGenesisPath("", "cfg-path", emptyLookup); path != "cfg-path" {
			t.Fatalf("unexpected path: got %q want %q", path, "cfg-path")
		}
	})

	t.Run("blank environment values are skipped", func(t *testing.T) {
		blankLookup := func(string) (string, bool) { return "  \t ", true }
		if path := resolveGenesisPath("", " cfg ", blankLookup); path != "cfg" {
			t.Fatalf("expected trimmed config path, got %q", path)
		}
	})
}

func TestBootstrapGenesis(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := state.NewManager(storage.NewMemDB())

	err := bootstrapGenesis(manager, "", logger)
	if err == nil {
		t.Fatal("expected error when state is empty and no spec is provided")
	}
	if !strings.Contains(err.Error(), "no genesis spec") {
		t.Fatalf("unexpected error: %v", err)
	}

	spec := genesis.Spec{
		ChainName: "creditnet-test",
		Tokens:    []genesis.TokenSpec{{Symbol: "CNET", Decimals: 18}},
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	if err := bootstrapGenesis(manager, path, logger); err != nil {
		t.Fatalf("bootstrap genesis: %v", err)
	}
	chain, applied, err := manager.GenesisApplied()
	if err != nil {
		t.Fatalf("genesis applied: %v", err)
	}
	if !applied || chain != "creditnet-test" {
		t.Fatalf("unexpected genesis marker: chain=%q applied=%v", chain, applied)
	}
	ok, err := manager.HasToken("CNET")
	if err != nil {
		t.Fatalf("has token: %v", err)
	}
	if !ok {
		t.Fatal("expected CNET to be registered")
	}

	// Restarts skip the spec even when no path is configured anymore.
	if err := bootstrapGenesis(manager, "", logger); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
}

type captureEmitter struct {
	seen []string
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.seen = append(c.seen, evt.EventType())
}

type stubEvent struct {
	typ string
}

func (s stubEvent) EventType() string      { return s.typ }
func (s stubEvent) Record() *events.Record { return &events.Record{Type: s.typ} }

func TestMeteredEmitterForwardsEvents(t *testing.T) {
	capture := &captureEmitter{}
	emitter := meteredEmitter{next: capture}

	emitter.Emit(stubEvent{typ: "credit.loan_created"})
	emitter.Emit(nil)
	emitter.Emit(stubEvent{typ: "credit.loan_repaid"})

	if len(capture.seen) != 2 {
		t.Fatalf("expected 2 forwarded events, got %d", len(capture.seen))
	}
	if capture.seen[0] != "credit.loan_created" || capture.seen[1] != "credit.loan_repaid" {
		t.Fatalf("unexpected events: %v", capture.seen)
	}
}
