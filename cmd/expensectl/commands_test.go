package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("SQLITE_DB_PATH", filepath.Join(dir, "mirror.db"))
	t.Setenv("AMQP_URL", "")
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCreateReplayAndList(t *testing.T) {
	setupEnv(t)

	args := []string{"create", "--amount", "250.50", "--category", "Food", "--description", "Lunch", "--date", "2024-03-01", "--idempotency-key", "abc"}
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var first struct {
		Expense struct {
			ID     string  `json:"id"`
			Amount float64 `json:"amount"`
		} `json:"expense"`
		Replayed bool `json:"replayed"`
	}
	if err := json.Unmarshal([]byte(out), &first); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if first.Replayed || first.Expense.Amount != 250.5 {
		t.Fatalf("unexpected create output: %s", out)
	}

	out, err = run(t, args...)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.Contains(out, `"replayed": true`) || !strings.Contains(out, first.Expense.ID) {
		t.Fatalf("unexpected replay output: %s", out)
	}

	out, err = run(t, "list", "--category", "Food")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, `"count": 1`) || !strings.Contains(out, `"total": 250.50`) {
		t.Fatalf("unexpected list output: %s", out)
	}

	out, err = run(t, "summary")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(out, `"category": "Food"`) {
		t.Fatalf("unexpected summary output: %s", out)
	}

	if _, err := run(t, "get", first.Expense.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := run(t, "get", "missing"); err == nil {
		t.Fatal("get of a missing id should fail")
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	setupEnv(t)

	if _, err := run(t, "create", "--amount", "-1", "--category", "Food", "--description", "x"); err == nil {
		t.Fatal("negative amount should be rejected")
	}
	if _, err := run(t, "create", "--amount", "1", "--category", "Food", "--description", "x", "--date", "yesterday"); err == nil {
		t.Fatal("bad date should be rejected")
	}
	if _, err := run(t, "create", "--amount", "1"); err == nil {
		t.Fatal("missing required flags should be rejected")
	}
}

func TestSweepAndMirrorTotals(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "sweep", "--retention", "1h")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, `"removed": 0`) {
		t.Fatalf("unexpected sweep output: %s", out)
	}

	out, err = run(t, "mirror", "totals")
	if err != nil {
		t.Fatalf("mirror totals: %v", err)
	}
	if !strings.Contains(out, `"pending_sheet": 0`) {
		t.Fatalf("unexpected totals output: %s", out)
	}
}
