// Package agent provides the task executor: it binds agent role definitions
// to capability model clients, drives the tool loop against the provider
// connection manager, and parses phase results into their expected shapes.
package agent

import (
	"os"
	"strings"
	"sync"

	"veracity/pkg/agent/internal/llmimpl/anthropic"
	"veracity/pkg/agent/internal/llmimpl/google"
	"veracity/pkg/agent/internal/llmimpl/ollama"
	"veracity/pkg/agent/internal/llmimpl/openaiofficial"
	"veracity/pkg/agent/llm"
	"veracity/pkg/faults"
)

// Environment variable names for provider credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGeminiAPIKey    = "GEMINI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

const defaultOllamaHost = "http://localhost:11434"

// ClientFactory creates and caches capability clients by model identifier.
// Model identifiers are "provider/model-name"; the provider prefix selects
// the implementation and its credential source.
type ClientFactory struct {
	mu      sync.Mutex
	clients map[string]llm.LLMClient
}

// NewClientFactory creates an empty client factory.
func NewClientFactory() *ClientFactory {
	return &ClientFactory{
		clients: make(map[string]llm.LLMClient),
	}
}

// ClientForModel returns a client for the given model identifier, creating it
// on first use. Missing credentials are a configuration failure.
func (f *ClientFactory) ClientForModel(model string) (llm.LLMClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[model]; ok {
		return client, nil
	}

	client, err := newClientForModel(model)
	if err != nil {
		return nil, err
	}
	f.clients[model] = client
	return client, nil
}

func newClientForModel(model string) (llm.LLMClient, error) {
	provider, name, ok := strings.Cut(model, "/")
	if !ok {
		return nil, faults.Newf(faults.ErrorTypeConfig, "model %q must be provider/model-name", model)
	}

	switch provider {
	case "anthropic":
		apiKey := os.Getenv(EnvAnthropicAPIKey)
		if apiKey == "" {
			return nil, faults.Newf(faults.ErrorTypeConfig, "%s not set", EnvAnthropicAPIKey)
		}
		return anthropic.NewClaudeClientWithModel(apiKey, name), nil
	case "openai":
		apiKey := os.Getenv(EnvOpenAIAPIKey)
		if apiKey == "" {
			return nil, faults.Newf(faults.ErrorTypeConfig, "%s not set", EnvOpenAIAPIKey)
		}
		return openaiofficial.NewOfficialClientWithModel(apiKey, name), nil
	case "google":
		apiKey := os.Getenv(EnvGeminiAPIKey)
		if apiKey == "" {
			return nil, faults.Newf(faults.ErrorTypeConfig, "%s not set", EnvGeminiAPIKey)
		}
		return google.NewGeminiClientWithModel(apiKey, name), nil
	case "ollama":
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = defaultOllamaHost
		}
		return ollama.NewClientWithModel(host, name), nil
	default:
		return nil, faults.Newf(faults.ErrorTypeConfig, "unsupported model provider: %s", provider)
	}
}
