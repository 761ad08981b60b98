package llm

import (
	"strings"

	chaterrors "github.com/chatdb/chatdb/internal/errors"
)

const fence = "```"

// StripCodeFence removes markdown code fences that wrap the whole text.
// A fenced block loses its opening line and closing marker; a single fenced
// line loses its markers and a leading language tag such as "sql". Unfenced text is only trimmed. The result is a fixed point:
// StripCodeFence(StripCodeFence(s)) == StripCodeFence(s).
func StripCodeFence(value string) string {
	text := strings.TrimSpace(value)
	for isFenced(text) {
		lines := strings.Split(text, "\n")
		if len(lines) < 2 {
			text = dropFenceLanguage(strings.TrimSuffix(strings.TrimPrefix(text, fence), fence))
		} else {
			text = strings.TrimSuffix(strings.Join(lines[1:], "\n"), fence)
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// fenceLanguages are the info strings models put after an opening marker.
// SQL keywords never collide with them, so "```SELECT 1```" is left alone.
var fenceLanguages = map[string]bool{
	"sql":        true,
	"postgresql": true,
	"postgres":   true,
	"psql":       true,
	"pgsql":      true,
	"duckdb":     true,
	"text":       true,
	"plaintext":  true,
	"markdown":   true,
	"md":         true,
}

func dropFenceLanguage(text string) string {
	word, rest, ok := strings.Cut(text, " ")
	if !ok || !fenceLanguages[strings.ToLower(word)] {
		return text
	}
	return rest
}

func isFenced(text string) bool {
	return strings.HasPrefix(text, fence) && strings.HasSuffix(text, fence)
}

// IsTokenRateLimit reports whether err is a rate limit on tokens per minute.
// Providers only expose this through message text, so the match lives here
// and nowhere else.
func IsTokenRateLimit(err error) bool {
	if !chaterrors.Is(err, chaterrors.KindRateLimited) {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "tokens per min")
}
