package llm

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/logging"
)

// ProviderError is a failed call to a provider API. Code is the HTTP status
// when there was one.
type ProviderError struct {
	Provider string
	Message  string
	Code     int
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Registry maps references to clients. A reference is a provider name
// ("claude"), a fallback ref ("ollama:llama3") or a model alias ("haiku").
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client
	aliases  map[string]string
	fallback string
	log      *logging.Logger
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm"),
	}
}

// Register stores client under ref, replacing any previous one.
func (r *Registry) Register(ref string, client Client) {
	r.mu.Lock()
	r.clients[ref] = client
	r.mu.Unlock()
	r.log.Debug().Str("ref", ref).Msg("provider registered")
}

// Alias points model at the client registered as ref.
func (r *Registry) Alias(model, ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = ref
}

// SetFallback names the client used for unknown references.
func (r *Registry) SetFallback(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = ref
}

// Resolve looks model up as a reference, then as an alias, then falls back.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ref := range []string{model, r.aliases[model], r.fallback} {
		if c, ok := r.clients[ref]; ok && ref != "" {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider for model %q", model)
}

// List returns the registered references, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.clients))
}

// modelAliases are the short names accepted for each provider's models.
var modelAliases = map[string][]string{
	"claude": {"sonnet", "opus", "haiku", "claude-sonnet", "claude-opus", "claude-haiku"},
	"gemini": {"gemini-pro", "gemini-flash"},
	"ollama": {"llama", "llama3", "mistral", "qwen"},
}

// NewRegistryFromConfig registers the primary provider, which is also the
// fallback, and one client per "provider:model" entry of cfg.Fallbacks.
// Only the primary provider has an API key in config, so a fallback to a
// different keyed provider is skipped.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	if c := providerClient(cfg.Provider, cfg.APIKey, cfg.Model, cfg.Endpoint); c != nil {
		reg.Register(cfg.Provider, c)
		reg.SetFallback(cfg.Provider)
		for _, a := range modelAliases[cfg.Provider] {
			reg.Alias(a, cfg.Provider)
		}
	}

	for _, ref := range cfg.Fallbacks {
		provider, model, _ := strings.Cut(ref, ":")
		var key, endpoint string
		if provider == cfg.Provider {
			key, endpoint = cfg.APIKey, cfg.Endpoint
		}
		if key == "" && provider != "ollama" {
			reg.log.Warn().Str("fallback", ref).Msg("fallback needs an API key, skipped")
			continue
		}
		c := providerClient(provider, key, model, endpoint)
		if c == nil {
			reg.log.Warn().Str("fallback", ref).Msg("unknown fallback provider, skipped")
			continue
		}
		reg.Register(ref, c)
	}
	return reg
}

func providerClient(provider, apiKey, model, endpoint string) Client {
	switch provider {
	case "claude":
		return NewClaudeAPIClient(apiKey, model, endpoint)
	case "gemini":
		return NewGeminiAPIClient(apiKey, model, endpoint)
	case "ollama":
		return NewOllamaAPIClient(endpoint, model)
	}
	return nil
}
