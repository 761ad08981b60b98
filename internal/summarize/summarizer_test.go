package summarize

import (
	"context"
	"strings"
	"testing"

	chaterrors "github.com/chatdb/chatdb/internal/errors"
	"github.com/chatdb/chatdb/internal/llm"
)

func TestSummarizeSendsRowsUnderStyleContract(t *testing.T) {
	model := &fakeCompleter{completion: llm.Completion{Text: "The common cold is associated with cough, sneezing and fatigue.", Model: "gpt-4.1-nano"}}
	summarizer, err := NewModelSummarizer(model)
	if err != nil {
		t.Fatalf("NewModelSummarizer() error = %v", err)
	}

	rows := `[{"name":"cough"},{"name":"sneezing"},{"name":"fatigue"}]`
	summary, err := summarizer.Summarize(context.Background(), rows)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.Text != "The common cold is associated with cough, sneezing and fatigue." {
		t.Fatalf("Text = %q", summary.Text)
	}
	if summary.Degraded {
		t.Fatal("Degraded = true")
	}

	req := model.requests[0]
	if req.User != rows {
		t.Fatalf("User = %q", req.User)
	}
	if req.Temperature != 0 || req.MaxTokens != 200 {
		t.Fatalf("decoding = temperature %v, max tokens %d", req.Temperature, req.MaxTokens)
	}
	for _, clause := range []string{"4 sentences", "sentence format", "do not drop or skip any columns", "don't currently have the data available", "The data shows"} {
		if !strings.Contains(strings.ToLower(req.System), strings.ToLower(clause)) {
			t.Fatalf("style contract missing %q", clause)
		}
	}
}

func TestSummarizeDegradesTokenRateLimit(t *testing.T) {
	model := &fakeCompleter{err: chaterrors.New(chaterrors.KindRateLimited, "Rate limit reached for gpt-4.1-nano on tokens per min (TPM): Limit 200000, Used 199500")}
	summarizer, err := NewModelSummarizer(model)
	if err != nil {
		t.Fatalf("NewModelSummarizer() error = %v", err)
	}

	summary, err := summarizer.Summarize(context.Background(), "[]")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.Text != TooBroadMessage || !summary.Degraded {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestSummarizeSurfacesOtherRateLimits(t *testing.T) {
	model := &fakeCompleter{err: chaterrors.New(chaterrors.KindRateLimited, "Rate limit reached on requests per min (RPM)")}
	summarizer, _ := NewModelSummarizer(model)

	_, err := summarizer.Summarize(context.Background(), "[]")
	if chaterrors.KindOf(err) != chaterrors.KindSummarization {
		t.Fatalf("kind = %q, err = %v", chaterrors.KindOf(err), err)
	}
}

func TestSummarizeWrapsRemoteFailure(t *testing.T) {
	model := &fakeCompleter{err: chaterrors.New(chaterrors.KindRemote, "completion failed status=502: bad gateway")}
	summarizer, _ := NewModelSummarizer(model)

	_, err := summarizer.Summarize(context.Background(), "[]")
	if chaterrors.KindOf(err) != chaterrors.KindSummarization {
		t.Fatalf("kind = %q", chaterrors.KindOf(err))
	}
	if !strings.Contains(err.Error(), "bad gateway") {
		t.Fatalf("error = %v", err)
	}
}

func TestSummarizeKeepsConfigurationKind(t *testing.T) {
	model := &fakeCompleter{err: chaterrors.New(chaterrors.KindConfiguration, "model api key is not configured")}
	summarizer, _ := NewModelSummarizer(model)

	_, err := summarizer.Summarize(context.Background(), "[]")
	if chaterrors.KindOf(err) != chaterrors.KindConfiguration {
		t.Fatalf("kind = %q", chaterrors.KindOf(err))
	}
}

func TestSummarizePassesNoDataPhrasingThrough(t *testing.T) {
	const noData = "I don't currently have the data available to answer that question."
	model := &fakeCompleter{completion: llm.Completion{Text: noData}}
	summarizer, _ := NewModelSummarizer(model)

	summary, err := summarizer.Summarize(context.Background(), "[]")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.Text != noData {
		t.Fatalf("Text = %q", summary.Text)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain", raw: "Patient p0001 has asthma.", want: "Patient p0001 has asthma."},
		{name: "fenced", raw: "```text\nPatient p0001 has asthma.\n```", want: "Patient p0001 has asthma."},
		{name: "doubled blank lines", raw: "First line.\n\nSecond line.", want: "First line.Second line."},
		{name: "quoted words", raw: `Symptoms are "cough" and "runny nose".`, want: "Symptoms are cough and runny nose."},
		{name: "quoted identifiers stay", raw: `Patient "p0001" has asthma.`, want: `Patient "p0001" has asthma.`},
		{name: "only quotes of blanks", raw: `"   "`, want: `"   "`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.raw); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestNormalizeLeavesInvalidUTF8Alone(t *testing.T) {
	raw := "bad \xff \"word\""
	if got := Normalize(raw); got != raw {
		t.Fatalf("Normalize() = %q", got)
	}
}

type fakeCompleter struct {
	requests   []llm.Request
	completion llm.Completion
	err        error
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (llm.Completion, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return f.completion, nil
}

func (f *fakeCompleter) Name() string { return "fake" }
