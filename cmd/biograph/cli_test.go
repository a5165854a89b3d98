package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"biograph/internal/settings"
	"biograph/internal/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "none.yaml")))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSettingsSetAndShow(t *testing.T) {
	t.Setenv("BIOGRAPH_DATA_DIR", t.TempDir())
	t.Setenv("BIOGRAPH_STORE", "file")

	if _, err := execute(t, "settings", "set", "--threshold", "8.5", "--history-limit", "20"); err != nil {
		t.Fatalf("settings set: %v", err)
	}
	out, err := execute(t, "settings", "show")
	if err != nil {
		t.Fatalf("settings show: %v", err)
	}
	var got settings.Settings
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Threshold != 8.5 || got.HistoryLimit != 20 || got.DefaultView != settings.ViewSurface {
		t.Fatalf("unexpected settings: %+v", got)
	}

	if _, err := execute(t, "settings", "set", "--threshold", "12"); err == nil {
		t.Fatal("expected out-of-range threshold to fail")
	}
}

func TestScanRecordsHistory(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Ethanol","smiles":"CCO","score":8.2,"confidence":0.91}`))
	}))
	defer api.Close()
	t.Setenv("BIOGRAPH_API_URL", api.URL)
	t.Setenv("BIOGRAPH_DATA_DIR", t.TempDir())
	t.Setenv("BIOGRAPH_STORE", "file")

	out, err := execute(t, "scan", "--mode", "manual", "--target", "6LU7", "--smiles", "CCO")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var r types.ScanResult
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !r.Active() || r.TargetID != "6LU7" {
		t.Fatalf("unexpected result: %+v", r)
	}

	out, err = execute(t, "history", "list", "--json")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(out), &entries); err != nil || len(entries) != 1 {
		t.Fatalf("history = %q (%v)", out, err)
	}
}

func TestScanValidationFails(t *testing.T) {
	t.Setenv("BIOGRAPH_DATA_DIR", t.TempDir())
	t.Setenv("BIOGRAPH_STORE", "file")
	if _, err := execute(t, "scan", "--mode", "manual", "--target", "", "--smiles", "CCO"); err == nil {
		t.Fatal("expected missing target to fail")
	}
}
