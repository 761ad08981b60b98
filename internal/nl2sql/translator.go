package nl2sql

import (
	"context"
	"fmt"
	"strings"

	chaterrors "github.com/chatdb/chatdb/internal/errors"
	"github.com/chatdb/chatdb/internal/llm"
	"github.com/chatdb/chatdb/internal/schema"
)

const (
	systemInstruction = "You are a helpful assistant that translates natural language questions into SQL queries."

	translateInstruction = "Translate the following natural language query into a valid SQL query " +
		"that can be executed on the above schema. The output should be pure SQL, " +
		"without any additional commentary. If filtering by names, use ILIKE for case-insensitive matching. " +
		"If using GROUP BY, include only grouped or aggregated columns in SELECT. " +
		"If you need to select full rows with filtered aggregates, consider using a subquery instead."

	maxTokens = 150
)

type Request struct {
	Question string `json:"question"`
}

// Statement is a generated SQL statement. SQL never carries a code fence or
// surrounding whitespace.
type Statement struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Statement, error)
}

// ModelTranslator turns questions into SQL with a language model.
type ModelTranslator struct {
	model  llm.Completer
	schema schema.Descriptor
}

func NewModelTranslator(model llm.Completer, descriptor schema.Descriptor) (*ModelTranslator, error) {
	if model == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if len(descriptor.Tables) == 0 {
		return nil, fmt.Errorf("schema descriptor has no tables")
	}
	return &ModelTranslator{model: model, schema: descriptor}, nil
}

func (t *ModelTranslator) Translate(ctx context.Context, req Request) (Statement, error) {
	completion, err := t.model.Complete(ctx, llm.Request{
		System:      systemInstruction,
		User:        BuildPrompt(t.schema, req.Question),
		Temperature: 0,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		if chaterrors.Is(err, chaterrors.KindConfiguration) {
			return Statement{}, err
		}
		return Statement{}, chaterrors.Wrap(chaterrors.KindTranslation, "model call failed", err)
	}

	sql := llm.StripCodeFence(completion.Text)
	if sql == "" {
		return Statement{}, chaterrors.New(chaterrors.KindTranslation, "model returned empty SQL")
	}
	return Statement{
		SQL:      sql,
		Provider: t.model.Name(),
		Model:    completion.Model,
	}, nil
}

// BuildPrompt renders the schema, the translation rules and the question,
// in that order.
func BuildPrompt(descriptor schema.Descriptor, question string) string {
	return fmt.Sprintf("%s\n%s\n\nUser Query: %s\nSQL:",
		descriptor.Render(),
		translateInstruction,
		strings.TrimSpace(question),
	)
}
