package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veracity/pkg/agent/llm"
	"veracity/pkg/config"
	"veracity/pkg/faults"
	"veracity/pkg/mcp"
)

// stubClient returns scripted responses in order.
type stubClient struct {
	responses []llm.CompletionResponse
	errs      []error
	calls     int
	requests  []llm.CompletionRequest
}

func (s *stubClient) Complete(_ context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.requests = append(s.requests, in)
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return llm.CompletionResponse{}, s.errs[i]
	}
	if i >= len(s.responses) {
		return llm.CompletionResponse{}, faults.New(faults.ErrorTypeAgentExecution, "stub exhausted")
	}
	return s.responses[i], nil
}

func (s *stubClient) GetModelName() string { return "stub/model" }

// stubProvider hands out the same client for every model.
type stubProvider struct {
	client llm.LLMClient
}

func (p *stubProvider) ClientForModel(string) (llm.LLMClient, error) {
	return p.client, nil
}

func executorConfig() *config.Config {
	return &config.Config{
		Agents: map[string]config.AgentSpec{
			"claim_extractor": {
				Name:             "claim_extractor",
				Model:            "anthropic/claude-sonnet-4-0",
				Role:             config.RoleClaimExtractor,
				Instruction:      "Extract factual claims as JSON.",
				MaxContextTokens: 1000,
				MaxReplyTokens:   500,
			},
		},
		Tools: map[string]config.ToolSpec{},
	}
}

func newTestExecutor(t *testing.T, client llm.LLMClient) *Executor {
	t.Helper()
	cfg := executorConfig()
	e, err := NewExecutor(cfg, mcp.NewManager(cfg), WithClientProvider(&stubProvider{client: client}))
	require.NoError(t, err)
	return e
}

func TestExecuteParsesClaimList(t *testing.T) {
	client := &stubClient{
		responses: []llm.CompletionResponse{
			{Content: `{"claims": [{"text": "X rose 40%", "type": "quantitative", "confidence": 0.7}]}`},
		},
	}
	e := newTestExecutor(t, client)

	result, err := e.Execute(context.Background(), Task{
		Agent:   "claim_extractor",
		Kind:    KindExtractClaims,
		Payload: "document text",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Claims)
	require.Len(t, result.Claims.Claims, 1)
	assert.Equal(t, "X rose 40%", result.Claims.Claims[0].Text)

	// System instruction and payload both reached the model.
	require.Len(t, client.requests, 1)
	msgs := client.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "document text", msgs[1].Content)
}

func TestExecuteMalformedResult(t *testing.T) {
	client := &stubClient{
		responses: []llm.CompletionResponse{{Content: `this is prose, not JSON`}},
	}
	e := newTestExecutor(t, client)

	_, err := e.Execute(context.Background(), Task{
		Agent: "claim_extractor", Kind: KindExtractClaims, Payload: "doc",
	})
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ErrorTypeMalformedResult))
}

func TestExecuteClientErrorPropagates(t *testing.T) {
	client := &stubClient{
		errs: []error{faults.New(faults.ErrorTypeAgentExecution, "endpoint unreachable")},
	}
	e := newTestExecutor(t, client)

	_, err := e.Execute(context.Background(), Task{
		Agent: "claim_extractor", Kind: KindExtractClaims, Payload: "doc",
	})
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ErrorTypeAgentExecution))
}

func TestExecuteUnknownAgent(t *testing.T) {
	e := newTestExecutor(t, &stubClient{})

	_, err := e.Execute(context.Background(), Task{
		Agent: "nonexistent", Kind: KindExtractClaims, Payload: "doc",
	})
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ErrorTypeConfig))
}

func TestExecuteToolLoopBounded(t *testing.T) {
	// The model keeps asking for a tool the agent is not permitted to use:
	// the permission error must surface unchanged, before any provider call.
	client := &stubClient{
		responses: []llm.CompletionResponse{
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search_literature"}}},
		},
	}
	e := newTestExecutor(t, client)

	_, err := e.Execute(context.Background(), Task{
		Agent: "claim_extractor", Kind: KindExtractClaims, Payload: "doc",
	})
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ErrorTypePermission))
}
