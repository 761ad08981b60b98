package chatdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chatdb/chatdb/internal/audit"
)

func TestRunQueryCommandPrintsResponse(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey, gotContentType string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Common cold symptoms include cough and sneezing.","sql":"SELECT 1","row_count":2}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"query", "Which symptoms", "are associated with the common cold?",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/query" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" || gotContentType != "application/json" {
		t.Fatalf("headers api_key=%q content_type=%q", gotAPIKey, gotContentType)
	}
	if gotBody["query"] != "Which symptoms are associated with the common cold?" {
		t.Fatalf("body = %v", gotBody)
	}
	if strings.TrimSpace(stdout.String()) != "Common cold symptoms include cough and sneezing." {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunModifyCommandWithJSONOutput(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"response":"Operation completed.","rows_affected":1}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-json", "modify", "Add hiccups as symptom s042"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotPath != "/v1/modify" {
		t.Fatalf("path = %s", gotPath)
	}
	if !strings.Contains(stdout.String(), `"rows_affected": 1`) {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunPreviewCommand(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"limit":5,"tables":[]}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"-base-url", srv.URL, "preview"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotMethod != http.MethodGet || gotPath != "/v1/preview" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error_code":"EXECUTION_FAILED","message":"Error executing SQL: relation \"patients\" does not exist"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "query", "How many patients?"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), `http 500: Error executing SQL: relation "patients" does not exist`) {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunRejectsMissingQuestion(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"query", "  "}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"unknown"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output")
	}
}

func TestRunAuditDump(t *testing.T) {
	data, err := audit.EncodeRecords([]audit.Record{
		{TraceID: "t-1", Flow: "query", Question: "Is asthma a disease?", Outcome: "summary", Rows: 1},
		{TraceID: "t-2", Flow: "modify", Question: "Delete p009", Outcome: "failure", Stage: "execution"},
	})
	if err != nil {
		t.Fatalf("EncodeRecords() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "batch.parquet")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"audit-dump", path}, Options{Stdout: &stdout, Stderr: io.Discard})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	var first audit.Record
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if first.TraceID != "t-1" || first.Question != "Is asthma a disease?" {
		t.Fatalf("first = %+v", first)
	}

	if code := Run(context.Background(), []string{"audit-dump", filepath.Join(t.TempDir(), "missing.parquet")}, Options{}); code != 1 {
		t.Fatalf("missing file exit code = %d", code)
	}
}
