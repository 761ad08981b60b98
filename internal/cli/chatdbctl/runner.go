package chatdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chatdb/chatdb/internal/audit"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type command struct {
	method   string
	path     string
	question bool
}

var commands = map[string]command{
	"health":  {method: http.MethodGet, path: "/v1/health"},
	"ready":   {method: http.MethodGet, path: "/v1/ready"},
	"preview": {method: http.MethodGet, path: "/v1/preview"},
	"query":   {method: http.MethodPost, path: "/v1/query", question: true},
	"modify":  {method: http.MethodPost, path: "/v1/modify", question: true},
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("chatdbctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8000"), "chatdb API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 90*time.Second), "HTTP timeout (e.g. 90s)")
	rawJSON := fs.Bool("json", false, "print the full JSON response for query and modify")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	name := strings.TrimSpace(fs.Arg(0))
	if name == "audit-dump" {
		return dumpAudit(fs.Args()[1:], stdout, stderr)
	}
	cmd, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		writeUsage(stderr)
		return 2
	}

	var payload []byte
	if cmd.question {
		question := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if question == "" {
			_, _ = fmt.Fprintf(stderr, "%s requires a question\n", name)
			return 2
		}
		payload, _ = json.Marshal(map[string]string{"query": question})
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + cmd.path
	code, responseBody, err := doRequest(ctx, client, cmd.method, endpoint, *apiKey, payload)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, errorMessage(responseBody))
		return 1
	}

	if cmd.question && !*rawJSON {
		var answer struct {
			Response string `json:"response"`
		}
		if err := json.Unmarshal(responseBody, &answer); err == nil && answer.Response != "" {
			_, _ = fmt.Fprintln(stdout, answer.Response)
			return 0
		}
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

// dumpAudit prints every record of downloaded audit batches as one JSON
// object per line.
func dumpAudit(paths []string, stdout, stderr io.Writer) int {
	if len(paths) == 0 {
		_, _ = fmt.Fprintln(stderr, "audit-dump requires at least one parquet file")
		return 2
	}
	encoder := json.NewEncoder(stdout)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "read %s: %v\n", path, err)
			return 1
		}
		records, err := audit.DecodeRecords(data)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "decode %s: %v\n", path, err)
			return 1
		}
		for _, record := range records {
			if err := encoder.Encode(record); err != nil {
				_, _ = fmt.Fprintf(stderr, "write record: %v\n", err)
				return 1
			}
		}
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func errorMessage(raw []byte) string {
	var failure struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &failure); err == nil && failure.Message != "" {
		return failure.Message
	}
	return strings.TrimSpace(string(raw))
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: chatdbctl [flags] <command> [question]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                 GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                  GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  preview                GET /v1/preview")
	_, _ = fmt.Fprintln(w, "  query <question>       POST /v1/query")
	_, _ = fmt.Fprintln(w, "  modify <question>      POST /v1/modify")
	_, _ = fmt.Fprintln(w, "  audit-dump <file>...   print archived audit batches as JSON lines")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
