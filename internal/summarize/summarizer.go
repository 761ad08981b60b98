package summarize

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	chaterrors "github.com/chatdb/chatdb/internal/errors"
	"github.com/chatdb/chatdb/internal/llm"
)

// TooBroadMessage replaces the summary when the model rejects the request
// for exceeding its tokens-per-minute quota.
const TooBroadMessage = "Sorry, your question is too broad or complex for me to process. Try asking something more specific."

const (
	styleContract = "You are a helpful assistant that receives structured data and presents it in a human-readable format. " +
		"When asked to provide descriptions or overviews, do not exceed 4 sentences. You may summarize the information to meet this limit. " +
		"You must return list items (such as the names of symptoms, diseases, and/or ids) in sentence format. " +
		"When describing tabular results, include all fields provided. Do not drop or skip any columns. " +
		"For example, if the results include both 'patient_id' and 'disease name', include both in your summary. " +
		"You must only use information returned by the SQL query. Do not add additional information, interpretation, or advice. " +
		"Do not add sentences that don't directly describe the results. The response should exactly reflect the SQL query result, no more, no less. " +
		"If no results are found, explain that you don't currently have the data available to answer that question. " +
		"Do not begin responses with phrases like 'The data shows...', just return the results of the query in readable form."

	maxTokens = 200
)

var quotedWords = regexp.MustCompile(`"([a-zA-Z\s]+)"`)

type Summary struct {
	Text     string `json:"text"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	// Degraded is set when Text is TooBroadMessage rather than model output.
	Degraded bool `json:"degraded,omitempty"`
}

type Summarizer interface {
	Summarize(ctx context.Context, serializedRows string) (Summary, error)
}

// ModelSummarizer turns serialized result rows into short prose.
type ModelSummarizer struct {
	model llm.Completer
}

func NewModelSummarizer(model llm.Completer) (*ModelSummarizer, error) {
	if model == nil {
		return nil, fmt.Errorf("model client is required")
	}
	return &ModelSummarizer{model: model}, nil
}

func (s *ModelSummarizer) Summarize(ctx context.Context, serializedRows string) (Summary, error) {
	completion, err := s.model.Complete(ctx, llm.Request{
		System:      styleContract,
		User:        serializedRows,
		Temperature: 0,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		switch {
		case llm.IsTokenRateLimit(err):
			return Summary{Text: TooBroadMessage, Provider: s.model.Name(), Degraded: true}, nil
		case chaterrors.Is(err, chaterrors.KindConfiguration):
			return Summary{}, err
		default:
			return Summary{}, chaterrors.Wrap(chaterrors.KindSummarization, "model call failed", err)
		}
	}

	return Summary{
		Text:     Normalize(completion.Text),
		Provider: s.model.Name(),
		Model:    completion.Model,
	}, nil
}

// Normalize strips a wrapping code fence, drops doubled blank lines and
// unquotes alphabetic-only phrases. The unquote step is best effort and
// falls back to its input.
func Normalize(raw string) string {
	text := llm.StripCodeFence(raw)
	text = strings.ReplaceAll(text, "\n\n", "")
	return unquote(text)
}

func unquote(text string) string {
	if !utf8.ValidString(text) {
		return text
	}
	cleaned := strings.TrimSpace(quotedWords.ReplaceAllString(text, "$1"))
	if cleaned == "" {
		return text
	}
	return cleaned
}
