package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaAPIClient is a direct HTTP client for the Ollama generate API.
type OllamaAPIClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaAPIClient creates a new Ollama API client.
// baseURL should be like "http://localhost:11434"
func NewOllamaAPIClient(baseURL, model string) *OllamaAPIClient {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	return &OllamaAPIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  newHTTPClient(),
	}
}

// Name returns the provider name.
func (o *OllamaAPIClient) Name() string {
	return "ollama"
}

// Complete sends a non-streaming generate request.
func (o *OllamaAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := o.model
	if req.Model != "" && req.Model != o.Name() {
		model = req.Model
	}

	body := ollamaRequest{
		Model:  model,
		Prompt: flattenPrompt(req),
		Stream: false,
	}
	if req.JSON {
		body.Format = "json"
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		body.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}

	var result ollamaResponse
	if err := postJSON(ctx, o.client, o.Name(), o.baseURL+"/api/generate", nil, body, &result); err != nil {
		return nil, err
	}

	stop := ""
	if result.Done {
		stop = "stop"
	}
	return &CompletionResponse{
		Content:    result.Response,
		StopReason: stop,
		Usage: Usage{
			InputTokens:  result.PromptEvalCount,
			OutputTokens: result.EvalCount,
		},
		Model:    model,
		Duration: time.Since(start),
	}, nil
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string `json:"model"`
	CreatedAt       string `json:"created_at"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}
