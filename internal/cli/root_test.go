package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetArgs(args)
	t.Cleanup(func() {
		RootCmd.SetOut(nil)
		RootCmd.SetArgs(nil)
		dbPath, configPath, formatFlag = "", "", "json"
	})
	err := RootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{
		"check", "assess", "admit", "refresh", "get", "export",
		"import", "search", "rm", "stats", "promote", "reindex",
	}
	for _, name := range want {
		cmd, _, err := RootCmd.Find([]string{name})
		if err != nil {
			t.Errorf("find %s: %v", name, err)
			continue
		}
		if cmd.Name() != name {
			t.Errorf("find %s: got %s", name, cmd.Name())
		}
	}
}

func TestFlags(t *testing.T) {
	tests := []struct {
		cmd  string
		flag string
	}{
		{"admit", "result"},
		{"admit", "result-file"},
		{"export", "output"},
		{"search", "limit"},
		{"promote", "demote"},
		{"reindex", "renormalize"},
	}
	for _, tt := range tests {
		cmd, _, err := RootCmd.Find([]string{tt.cmd})
		if err != nil {
			t.Fatalf("find %s: %v", tt.cmd, err)
		}
		if cmd.Flags().Lookup(tt.flag) == nil {
			t.Errorf("%s: missing --%s", tt.cmd, tt.flag)
		}
	}

	for _, name := range []string{"db", "config", "format"} {
		if RootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("root: missing --%s", name)
		}
	}
}

func TestErrorsAreReturned(t *testing.T) {
	t.Chdir(t.TempDir())
	db := filepath.Join(t.TempDir(), "cache.db")

	out, err := execute(t, "--db", db, "admit", "--result", "Оценка: 5/6", "As a user, I want to log in")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !strings.Contains(out, `"created": true`) {
		t.Errorf("expected created record, got %s", out)
	}

	_, err = execute(t, "--db", db, "get", "01MISSING")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "get: ") {
		t.Errorf("expected error prefixed with the command, got %q", err)
	}

	// The failed command released the store.
	out, err = execute(t, "--db", db, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, `"total_records": 1`) {
		t.Errorf("expected one record, got %s", out)
	}

	_, err = execute(t, "--config", "missing.yaml", "stats")
	if err == nil || !strings.HasPrefix(err.Error(), "open: ") {
		t.Errorf("expected open error for a missing config, got %v", err)
	}
}
