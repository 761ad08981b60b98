// Package errors defines the closed set of failure kinds produced by the
// question-answering pipeline, so callers can branch on kind instead of
// parsing message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// KindConfiguration marks a missing or unusable model credential.
	KindConfiguration Kind = "configuration"
	// KindRateLimited marks a model call rejected by a rate limit.
	KindRateLimited Kind = "rate_limited"
	// KindRemote marks any other model service failure.
	KindRemote Kind = "remote"
	// KindTranslation marks a failed question-to-SQL translation.
	KindTranslation Kind = "translation"
	// KindExecution marks a statement the store rejected or failed.
	KindExecution Kind = "execution"
	// KindSummarization marks a failed rows-to-prose summarization.
	KindSummarization Kind = "summarization"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// KindOf returns the kind of the outermost *E in err's chain, or "" when
// err carries no kind.
func KindOf(err error) Kind {
	var e *E
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether any *E in err's chain has the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *E
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
