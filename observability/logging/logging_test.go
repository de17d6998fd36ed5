package logging

import (
	"log/slog"
	"sort"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"  Error  ", slog.LevelError},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.raw)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestMaskFieldRedactsUnknownKeys(t *testing.T) {
	attr := MaskField("authorization", "Bearer secret")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("expected redacted value, got %q", attr.Value.String())
	}

	attr = MaskField("target", "payments")
	if attr.Value.String() != "payments" {
		t.Fatalf("allowlisted key should pass through, got %q", attr.Value.String())
	}

	attr = MaskField("authorization", "")
	if attr.Value.String() != "" {
		t.Fatalf("empty value should pass through, got %q", attr.Value.String())
	}
}

func TestMaskValue(t *testing.T) {
	if got := MaskValue("hunter2"); got != RedactedValue {
		t.Fatalf("expected redacted value, got %q", got)
	}
	if got := MaskValue("   "); got != "   " {
		t.Fatalf("blank value should pass through, got %q", got)
	}
}

func TestRedactionAllowlistSorted(t *testing.T) {
	keys := RedactionAllowlist()
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("allowlist not sorted: %v", keys)
	}
	for _, key := range keys {
		if !IsAllowlisted(key) {
			t.Fatalf("allowlist entry %q not allowlisted", key)
		}
	}
	if IsAllowlisted("token") {
		t.Fatalf("token must not be allowlisted")
	}
}
