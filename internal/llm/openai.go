package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	chaterrors "github.com/chatdb/chatdb/internal/errors"
)

// OpenAIClient talks to OpenAI-compatible chat completion endpoints.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   strings.TrimSpace(cfg.Model),
		client:  &http.Client{Timeout: clientTimeout(cfg.Timeout)},
	}, nil
}

func (c *OpenAIClient) Name() string { return ProviderOpenAI }

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Completion, error) {
	if err := requireAPIKey(c.apiKey); err != nil {
		return Completion{}, err
	}

	body, err := json.Marshal(openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Completion{}, chaterrors.Wrap(chaterrors.KindRemote, "request chat completion", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, chaterrors.Wrap(chaterrors.KindRemote, "read chat response body", err)
	}
	if resp.StatusCode >= 400 {
		var errResp openAIErrorResponse
		message := strings.TrimSpace(string(rawRespBody))
		if json.Unmarshal(rawRespBody, &errResp) == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
		}
		return Completion{}, statusError(resp.StatusCode, message)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Completion{}, chaterrors.Wrap(chaterrors.KindRemote, "decode chat completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, chaterrors.New(chaterrors.KindRemote, "empty chat completion choices")
	}

	model := parsed.Model
	if model == "" {
		model = c.model
	}
	return Completion{
		Text:   strings.TrimSpace(parsed.Choices[0].Message.Content),
		Model:  model,
		Tokens: parsed.Usage.TotalTokens,
	}, nil
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
