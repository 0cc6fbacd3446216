package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const (
	defaultClaudeEndpoint = "https://api.anthropic.com/v1/messages"
	claudeAPIVersion      = "2023-06-01"
	defaultMaxTokens      = 1024
)

// ClaudeAPIClient is a direct HTTP client for the Anthropic Messages API.
type ClaudeAPIClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewClaudeAPIClient creates a new Claude API client. An empty endpoint
// selects the public API.
func NewClaudeAPIClient(apiKey, model, endpoint string) *ClaudeAPIClient {
	if endpoint == "" {
		endpoint = defaultClaudeEndpoint
	}
	return &ClaudeAPIClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		client:   newHTTPClient(),
	}
}

// Name returns the provider name.
func (c *ClaudeAPIClient) Name() string {
	return "claude"
}

// Complete sends a completion request to the Messages API.
func (c *ClaudeAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := c.model
	if req.Model != "" && req.Model != c.Name() {
		model = req.Model
	}

	body := claudeRequest{
		Model:       model,
		System:      req.System,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}
	if req.JSON {
		body.System = strings.TrimSpace(body.System + "\n\nRespond with a single JSON object and nothing else.")
	}

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": claudeAPIVersion,
	}

	var result claudeResponse
	if err := postJSON(ctx, c.client, c.Name(), c.endpoint, headers, body, &result); err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &CompletionResponse{
		Content:    content.String(),
		StopReason: result.StopReason,
		Usage: Usage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		},
		Model:    result.Model,
		Duration: time.Since(start),
	}, nil
}

type claudeRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type claudeResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
