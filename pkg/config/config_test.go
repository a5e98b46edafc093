package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veracity/pkg/faults"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validAgentsYAML = `
agents:
  coordinator:
    model: anthropic/claude-sonnet-4-0
    role: coordinator
    instruction: Coordinate the analysis workflow.
    sub_agents:
      - claim_extractor
  claim_extractor:
    model: openai/gpt-4o
    role: claim_extractor
    instruction: Extract factual claims.
    tools:
      - search_literature
`

const validToolsYAML = `
tool_providers:
  research:
    base_url: http://localhost:8931
    auth_token: ${RESEARCH_TOKEN}
    tools:
      - search_literature
      - fetch_paper
`

func TestLoadValidConfig(t *testing.T) {
	agents := writeTempConfig(t, "agents.yaml", validAgentsYAML)
	tools := writeTempConfig(t, "tools.yaml", validToolsYAML)

	cfg, err := Load(agents, tools)
	require.NoError(t, err)

	assert.Len(t, cfg.Agents, 2)
	assert.Len(t, cfg.Tools, 1)

	coord, err := cfg.GetAgent("coordinator")
	require.NoError(t, err)
	assert.Equal(t, "coordinator", coord.Name)
	assert.Equal(t, []string{"claim_extractor"}, coord.SubAgents)
	assert.Equal(t, DefaultMaxContextTokens, coord.MaxContextTokens)
	assert.Equal(t, DefaultMaxReplyTokens, coord.MaxReplyTokens)

	provider, err := cfg.GetTool("research")
	require.NoError(t, err)
	assert.Equal(t, DefaultProviderTimeout, provider.Timeout)
	assert.Equal(t, DefaultConnectAttempts, provider.ConnectAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	tools := writeTempConfig(t, "tools.yaml", validToolsYAML)

	_, err := Load("/nonexistent/agents.yaml", tools)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ErrorTypeConfig))
}

func TestLoadMalformedYAML(t *testing.T) {
	agents := writeTempConfig(t, "agents.yaml", "agents: [not: a: map")
	tools := writeTempConfig(t, "tools.yaml", validToolsYAML)

	_, err := Load(agents, tools)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ErrorTypeConfig))
}

func TestLoadNoAgents(t *testing.T) {
	agents := writeTempConfig(t, "agents.yaml", "agents: {}")
	tools := writeTempConfig(t, "tools.yaml", validToolsYAML)

	_, err := Load(agents, tools)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no agents configured")
}

func TestLoadDefaultModel(t *testing.T) {
	agents := writeTempConfig(t, "agents.yaml", `
agents:
  reviewer:
    role: quality_reviewer
    instruction: Review reports.
`)
	tools := writeTempConfig(t, "tools.yaml", "tool_providers: {}")

	cfg, err := Load(agents, tools)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, cfg.Agents["reviewer"].Model)
}

func TestValidateUndeclaredTool(t *testing.T) {
	agents := writeTempConfig(t, "agents.yaml", `
agents:
  extractor:
    model: anthropic/claude-sonnet-4-0
    role: claim_extractor
    instruction: Extract claims.
    tools:
      - no_such_tool
`)
	tools := writeTempConfig(t, "tools.yaml", validToolsYAML)

	_, err := Load(agents, tools)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "no_such_tool")
}

func TestValidateUnknownSubAgent(t *testing.T) {
	agents := writeTempConfig(t, "agents.yaml", `
agents:
  coordinator:
    model: anthropic/claude-sonnet-4-0
    role: coordinator
    instruction: Coordinate.
    sub_agents:
      - ghost
`)
	tools := writeTempConfig(t, "tools.yaml", "tool_providers: {}")

	_, err := Load(agents, tools)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestValidateDelegationCycle(t *testing.T) {
	agents := writeTempConfig(t, "agents.yaml", `
agents:
  a:
    model: anthropic/claude-sonnet-4-0
    role: coordinator
    instruction: A.
    sub_agents: [b]
  b:
    model: anthropic/claude-sonnet-4-0
    role: coordinator
    instruction: B.
    sub_agents: [c]
  c:
    model: anthropic/claude-sonnet-4-0
    role: coordinator
    instruction: C.
    sub_agents: [a]
`)
	tools := writeTempConfig(t, "tools.yaml", "tool_providers: {}")

	_, err := Load(agents, tools)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "delegation cycle")
}

func TestValidateToolMissingBaseURL(t *testing.T) {
	agents := writeTempConfig(t, "agents.yaml", `
agents:
  coordinator:
    model: anthropic/claude-sonnet-4-0
    role: coordinator
    instruction: Coordinate.
`)
	tools := writeTempConfig(t, "tools.yaml", `
tool_providers:
  broken:
    tools: [x]
`)

	_, err := Load(agents, tools)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url is required")
}

func TestSubstituteEnv(t *testing.T) {
	t.Setenv("VERACITY_TEST_TOKEN", "sekrit")

	assert.Equal(t, "sekrit", substituteEnv("${VERACITY_TEST_TOKEN}"))
	assert.Equal(t, "Bearer sekrit", substituteEnv("Bearer ${VERACITY_TEST_TOKEN}"))
	// Unresolved placeholders are left intact for later diagnosis.
	assert.Equal(t, "${VERACITY_UNSET_VAR}", substituteEnv("${VERACITY_UNSET_VAR}"))
}

func TestAgentAllowsTool(t *testing.T) {
	cfg := &Config{
		Agents: map[string]AgentSpec{
			"extractor": {Tools: []string{"search_literature"}},
		},
	}

	assert.True(t, cfg.AgentAllowsTool("extractor", "search_literature"))
	assert.False(t, cfg.AgentAllowsTool("extractor", "fetch_paper"))
	assert.False(t, cfg.AgentAllowsTool("unknown", "search_literature"))
}

func TestProviderForTool(t *testing.T) {
	cfg := &Config{
		Tools: map[string]ToolSpec{
			"research": {Tools: []string{"search_literature"}},
		},
	}

	name, ok := cfg.ProviderForTool("search_literature")
	assert.True(t, ok)
	assert.Equal(t, "research", name)

	_, ok = cfg.ProviderForTool("unknown_tool")
	assert.False(t, ok)
}

func TestAPITokenRoundTrip(t *testing.T) {
	hash, err := HashAPIToken("my-api-token")
	require.NoError(t, err)

	assert.True(t, VerifyAPIToken("my-api-token", hash))
	assert.False(t, VerifyAPIToken("wrong-token", hash))
	assert.False(t, VerifyAPIToken("my-api-token", "not-a-valid-hash"))
}
