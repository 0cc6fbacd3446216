package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// --- Registry tests ---

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry(silentLog())

	mock := &MockClient{ProviderName: "test-provider"}
	reg.Register("test-provider", mock)

	client, err := reg.Resolve("test-provider")
	require.NoError(t, err)
	assert.Equal(t, "test-provider", client.Name())
}

func TestRegistryAlias(t *testing.T) {
	reg := NewRegistry(silentLog())

	reg.Register("claude", &MockClient{ProviderName: "claude"})
	reg.Alias("sonnet", "claude")
	reg.Alias("opus", "claude")

	for _, model := range []string{"sonnet", "opus"} {
		client, err := reg.Resolve(model)
		require.NoError(t, err)
		assert.Equal(t, "claude", client.Name())
	}
}

func TestRegistryFallback(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("default-llm", &MockClient{ProviderName: "default-llm"})
	reg.SetFallback("default-llm")

	client, err := reg.Resolve("unknown-model-xyz")
	require.NoError(t, err)
	assert.Equal(t, "default-llm", client.Name())
}

func TestRegistryResolveNotFound(t *testing.T) {
	reg := NewRegistry(silentLog())
	_, err := reg.Resolve("nothing")
	assert.ErrorContains(t, err, `no LLM provider for model "nothing"`)
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("ollama", &MockClient{ProviderName: "ollama"})
	reg.Register("claude", &MockClient{ProviderName: "claude"})
	assert.Equal(t, []string{"claude", "ollama"}, reg.List())
}

func TestNewRegistryFromConfig(t *testing.T) {
	reg := NewRegistryFromConfig(config.LLMConfig{
		Provider:  "claude",
		APIKey:    "sk-test",
		Model:     "claude-haiku",
		Fallbacks: []string{"claude:claude-sonnet", "ollama:llama3", "gemini:gemini-flash", "bogus:x"},
	}, silentLog())

	assert.Equal(t, []string{"claude", "claude:claude-sonnet", "ollama:llama3"}, reg.List())

	client, err := reg.Resolve("haiku")
	require.NoError(t, err)
	assert.Equal(t, "claude", client.Name())

	client, err = reg.Resolve("ollama:llama3")
	require.NoError(t, err)
	assert.Equal(t, "ollama", client.Name())
}

func TestNewRegistryFromConfigUnknownProvider(t *testing.T) {
	reg := NewRegistryFromConfig(config.LLMConfig{Provider: "none"}, silentLog())
	assert.Empty(t, reg.List())
}

// --- Mock tests ---

func TestMockClientRecordsRequests(t *testing.T) {
	mock := &MockClient{
		ProviderName: "mock",
		CompleteFunc: func(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Content: "echo: " + req.Messages[0].Content}, nil
		},
	}

	resp, err := mock.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hola"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "echo: hola", resp.Content)
	require.Len(t, mock.Requests(), 1)
	assert.Equal(t, "hola", mock.Requests()[0].Messages[0].Content)
}

func TestMockClientDefaultComplete(t *testing.T) {
	mock := &MockClient{ProviderName: "mock"}
	resp, err := mock.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)
}

// --- HTTP provider tests ---

func TestClaudeAPIClientComplete(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.Equal(t, claudeAPIVersion, r.Header.Get("anthropic-version"))
		assert.Contains(t, r.Header.Get("User-Agent"), "closer/")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":"msg_1","model":"claude-haiku","stop_reason":"end_turn",
			"content":[{"type":"text","text":"Hola"},{"type":"text","text":", Ana"}],
			"usage":{"input_tokens":12,"output_tokens":3}}`)
	}))
	defer srv.Close()

	c := NewClaudeAPIClient("sk-test", "claude-haiku", srv.URL)
	resp, err := c.Complete(context.Background(), CompletionRequest{
		System:   "You sell.",
		Messages: []Message{{Role: RoleUser, Content: "hola"}},
		JSON:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Hola, Ana", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 3}, resp.Usage)
	assert.Equal(t, "claude-haiku", got.Model)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	assert.Contains(t, got.System, "JSON")
}

func TestClaudeAPIClientModelOverride(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"content":[]}`)
	}))
	defer srv.Close()

	c := NewClaudeAPIClient("k", "claude-sonnet", srv.URL)
	_, err := c.Complete(context.Background(), CompletionRequest{Model: "claude-haiku"})
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku", got.Model)

	_, err = c.Complete(context.Background(), CompletionRequest{Model: "claude"})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet", got.Model, "provider name is not a model")
}

func TestClaudeAPIClientProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(529)
		fmt.Fprint(w, `{"error":{"type":"overloaded_error"}}`)
	}))
	defer srv.Close()

	_, err := NewClaudeAPIClient("k", "m", srv.URL).Complete(context.Background(), CompletionRequest{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 529, pe.Code)
	assert.Equal(t, "claude", pe.Provider)
	assert.True(t, IsRetryable(err))
}

func TestOllamaAPIClientComplete(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"model":"llama3","response":"{\"category\":\"interested\"}","done":true,"prompt_eval_count":5,"eval_count":7}`)
	}))
	defer srv.Close()

	temp := 0.2
	c := NewOllamaAPIClient(srv.URL+"/", "llama3")
	resp, err := c.Complete(context.Background(), CompletionRequest{
		System:      "Classify.",
		Messages:    []Message{{Role: RoleUser, Content: "me interesa"}},
		Temperature: &temp,
		JSON:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"category":"interested"}`, resp.Content)
	assert.Equal(t, Usage{InputTokens: 5, OutputTokens: 7}, resp.Usage)
	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
	assert.Equal(t, "System: Classify.\n\nme interesa\n\n", got.Prompt)
	require.NotNil(t, got.Options)
	assert.Equal(t, 0.2, *got.Options.Temperature)
}

func TestGeminiAPIClientComplete(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.URL.Query().Get("key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"POSITIVE"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":1}}`)
	}))
	defer srv.Close()

	c := NewGeminiAPIClient("g-key", "gemini-flash", srv.URL)
	resp, err := c.Complete(context.Background(), CompletionRequest{
		Messages:  []Message{{Role: RoleUser, Content: "genial"}},
		MaxTokens: 5,
		JSON:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, "POSITIVE", resp.Content)
	assert.Equal(t, "STOP", resp.StopReason)
	assert.Equal(t, 5, got.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, "application/json", got.GenerationConfig.ResponseMIMEType)
}

func TestProviderErrorFormat(t *testing.T) {
	assert.Equal(t, "claude: 429 rate limited", (&ProviderError{Provider: "claude", Code: 429, Message: "rate limited"}).Error())
	assert.Equal(t, "ollama: connection refused", (&ProviderError{Provider: "ollama", Message: "connection refused"}).Error())
}

// --- Failover tests ---

func TestFailoverSuccess(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("mock", &MockClient{ProviderName: "mock", CompleteFunc: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{Content: "ok"}, nil
	}})

	fc := NewFailoverClient(reg, "mock", nil, silentLog())
	resp, err := fc.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "mock", fc.Name())
}

func TestFailoverTriesFallback(t *testing.T) {
	var callOrder []string

	primary := &MockClient{
		ProviderName: "primary",
		CompleteFunc: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
			callOrder = append(callOrder, "primary")
			return nil, &ProviderError{Provider: "primary", Message: "overloaded", Code: 529}
		},
	}
	fallback := &MockClient{
		ProviderName: "fallback",
		CompleteFunc: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
			callOrder = append(callOrder, "fallback")
			return &CompletionResponse{Content: "fallback response"}, nil
		},
	}

	reg := NewRegistry(silentLog())
	reg.Register("primary", primary)
	reg.Register("fallback", fallback)

	fc := NewFailoverClient(reg, "primary", []string{"fallback"}, silentLog())
	resp, err := fc.Complete(context.Background(), CompletionRequest{Model: "big-model"})
	require.NoError(t, err)
	assert.Equal(t, "fallback response", resp.Content)
	assert.Equal(t, []string{"primary", "fallback"}, callOrder)

	assert.Equal(t, "big-model", primary.Requests()[0].Model)
	assert.Empty(t, fallback.Requests()[0].Model, "fallbacks use their own model")
}

func TestFailoverNonRetryableStops(t *testing.T) {
	callCount := 0
	reg := NewRegistry(silentLog())
	reg.Register("primary", &MockClient{ProviderName: "primary", CompleteFunc: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
		callCount++
		return nil, fmt.Errorf("non-retryable error")
	}})
	reg.Register("fallback", &MockClient{ProviderName: "fallback", CompleteFunc: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
		callCount++
		return &CompletionResponse{Content: "should not reach"}, nil
	}})

	fc := NewFailoverClient(reg, "primary", []string{"fallback"}, silentLog())
	_, err := fc.Complete(context.Background(), CompletionRequest{})
	assert.Error(t, err)
	assert.Equal(t, 1, callCount, "should not try fallback on non-retryable error")
}

func TestFailoverStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	reg := NewRegistry(silentLog())
	reg.Register("primary", &MockClient{ProviderName: "primary", CompleteFunc: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
		calls++
		cancel()
		return nil, &ProviderError{Provider: "primary", Code: 503}
	}})
	reg.Register("fallback", &MockClient{ProviderName: "fallback"})

	_, err := NewFailoverClient(reg, "primary", []string{"fallback"}, silentLog()).Complete(ctx, CompletionRequest{})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&ProviderError{Code: 429}))
	assert.True(t, IsRetryable(&ProviderError{Code: 529}))
	assert.True(t, IsRetryable(&ProviderError{Code: 503}))
	assert.True(t, IsRetryable(fmt.Errorf("server overloaded")))
	assert.True(t, IsRetryable(fmt.Errorf("Rate limit exceeded")))
	assert.False(t, IsRetryable(&ProviderError{Code: 400}))
	assert.False(t, IsRetryable(fmt.Errorf("invalid input")))
	assert.False(t, IsRetryable(nil))
}

func TestFailoverSkipsRefResolvingToTriedClient(t *testing.T) {
	calls := 0
	reg := NewRegistry(silentLog())
	reg.Register("primary", &MockClient{ProviderName: "primary", CompleteFunc: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
		calls++
		return nil, &ProviderError{Provider: "primary", Code: 503}
	}})
	reg.SetFallback("primary")

	_, err := NewFailoverClient(reg, "primary", []string{"gemini:unconfigured"}, silentLog()).Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsRetryable(err))
}
