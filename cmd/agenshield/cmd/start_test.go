package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/agen-co/agenshield/internal/adapter/outbound/memory"
	"github.com/agen-co/agenshield/internal/config"
)

func TestSeedPolicies(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	policyFile := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(policyFile, []byte(`
policies:
  - {id: from-file, action: deny, target: filesystem, patterns: ["/etc/**"]}
`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Policies = []config.PolicyConfig{
		{ID: "from-config", Action: "allow", Target: "url", Patterns: []string{"github.com"}},
	}
	cfg.PolicyFile = policyFile

	store := memory.NewPolicyStore()
	seeded, err := seedPolicies(ctx, cfg, store, logger)
	if err != nil {
		t.Fatal(err)
	}
	if seeded != 2 {
		t.Fatalf("seeded = %d, want 2", seeded)
	}

	got, err := store.GetEnabled(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "from-config" || got[1].ID != "from-file" {
		t.Errorf("stored policies = %+v", got)
	}

	// A populated store wins; re-seeding must not overwrite.
	if err := store.Delete(ctx, "from-file"); err != nil {
		t.Fatal(err)
	}
	seeded, err = seedPolicies(ctx, cfg, store, logger)
	if err != nil {
		t.Fatal(err)
	}
	if seeded != 0 {
		t.Errorf("re-seed into populated store = %d, want 0", seeded)
	}
	got, _ = store.GetEnabled(ctx, "")
	if len(got) != 1 {
		t.Errorf("policies after re-seed = %d, want operator state preserved", len(got))
	}
}

func TestSeedPoliciesBadPolicyFile(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := seedPolicies(ctx, cfg, memory.NewPolicyStore(), logger); err == nil {
		t.Error("unreadable policy file must fail startup")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "daemon.pid")

	if err := writePIDFile(path); err != nil {
		t.Fatal(err)
	}
	if pid := readPIDFile(path); pid != os.Getpid() {
		t.Errorf("read pid = %d, want %d", pid, os.Getpid())
	}

	if pid := readPIDFile(filepath.Join(t.TempDir(), "absent.pid")); pid != 0 {
		t.Errorf("missing file pid = %d, want 0", pid)
	}
}
