// Package config provides loading and validation of the declarative agent role
// and tool provider definitions. Configuration is read once at startup into an
// immutable structure; all graph validation (tool subset relation, sub-agent
// references, delegation cycles) happens at load time, not at call time.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"veracity/pkg/faults"
)

// Agent role names used by the workflow phases.
const (
	RoleCoordinator            = "coordinator"
	RoleDocumentProcessor      = "document_processor"
	RoleClaimExtractor         = "claim_extractor"
	RoleVerificationSpecialist = "verification_specialist"
	RoleReportWriter           = "report_writer"
	RoleQualityReviewer        = "quality_reviewer"
)

// Defaults applied when the YAML omits optional fields.
const (
	DefaultModel            = "anthropic/claude-sonnet-4-0"
	DefaultProviderTimeout  = 30 * time.Second
	DefaultConnectAttempts  = 3
	DefaultMaxContextTokens = 16000
	DefaultMaxReplyTokens   = 4096
)

// AgentSpec describes a single agent role: the capability model backing it,
// its human-readable role description, the tool names it may invoke, and the
// sub-agents it may delegate to.
type AgentSpec struct {
	Name        string   `yaml:"-"`
	Model       string   `yaml:"model"`
	Role        string   `yaml:"role"`
	Instruction string   `yaml:"instruction"`
	Tools       []string `yaml:"tools,omitempty"`
	SubAgents   []string `yaml:"sub_agents,omitempty"`
	// Context management settings.
	MaxContextTokens int `yaml:"max_context_tokens,omitempty"`
	MaxReplyTokens   int `yaml:"max_reply_tokens,omitempty"`
}

// ToolSpec describes a tool provider: its connection descriptor, auth, and
// the tool names it is declared to expose. The declared names back the
// load-time subset validation of agent tool permissions; the live set is
// still discovered from the provider at first connection.
type ToolSpec struct {
	Name            string        `yaml:"-"`
	BaseURL         string        `yaml:"base_url"`
	AuthToken       string        `yaml:"auth_token,omitempty"`
	Tools           []string      `yaml:"tools"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
	ConnectAttempts int           `yaml:"connect_attempts,omitempty"`
}

// Config is the immutable result of loading the agent and tool definitions.
type Config struct {
	Agents map[string]AgentSpec
	Tools  map[string]ToolSpec
}

// agentsFile mirrors the top-level layout of agents.yaml.
type agentsFile struct {
	Agents map[string]AgentSpec `yaml:"agents"`
}

// toolsFile mirrors the top-level layout of tools.yaml.
type toolsFile struct {
	Tools map[string]ToolSpec `yaml:"tool_providers"`
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads and validates the agent and tool definitions. It is a pure
// function of its inputs (plus referenced environment variables) and is safe
// to call repeatedly. All failures are classified faults.ErrorTypeConfig.
func Load(agentsPath, toolsPath string) (*Config, error) {
	agents, err := loadAgents(agentsPath)
	if err != nil {
		return nil, err
	}

	tools, err := loadTools(toolsPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Agents: agents, Tools: tools}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAgents(path string) (map[string]AgentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.WithCause(faults.ErrorTypeConfig, err, fmt.Sprintf("failed to read agent config %s", path))
	}

	var file agentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, faults.WithCause(faults.ErrorTypeConfig, err, fmt.Sprintf("failed to parse agent config %s", path))
	}
	if len(file.Agents) == 0 {
		return nil, faults.Newf(faults.ErrorTypeConfig, "no agents configured in %s", path)
	}

	agents := make(map[string]AgentSpec, len(file.Agents))
	for name, spec := range file.Agents {
		spec.Name = name
		applyAgentDefaults(&spec)
		agents[name] = spec
	}
	return agents, nil
}

func loadTools(path string) (map[string]ToolSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.WithCause(faults.ErrorTypeConfig, err, fmt.Sprintf("failed to read tool config %s", path))
	}

	var file toolsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, faults.WithCause(faults.ErrorTypeConfig, err, fmt.Sprintf("failed to parse tool config %s", path))
	}

	tools := make(map[string]ToolSpec, len(file.Tools))
	for name, spec := range file.Tools {
		spec.Name = name
		spec.AuthToken = substituteEnv(spec.AuthToken)
		applyToolDefaults(&spec)
		tools[name] = spec
	}
	return tools, nil
}

func applyAgentDefaults(spec *AgentSpec) {
	if spec.Model == "" {
		spec.Model = DefaultModel
	}
	if spec.MaxContextTokens <= 0 {
		spec.MaxContextTokens = DefaultMaxContextTokens
	}
	if spec.MaxReplyTokens <= 0 {
		spec.MaxReplyTokens = DefaultMaxReplyTokens
	}
}

func applyToolDefaults(spec *ToolSpec) {
	if spec.Timeout <= 0 {
		spec.Timeout = DefaultProviderTimeout
	}
	if spec.ConnectAttempts <= 0 {
		spec.ConnectAttempts = DefaultConnectAttempts
	}
}

// substituteEnv replaces ${VAR} placeholders with environment values,
// leaving unresolved placeholders untouched.
func substituteEnv(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		envVar := match[2 : len(match)-1]
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

// GetAgent returns the spec for a named agent role.
func (c *Config) GetAgent(name string) (AgentSpec, error) {
	spec, ok := c.Agents[name]
	if !ok {
		return AgentSpec{}, faults.Newf(faults.ErrorTypeConfig, "agent not found: %s", name)
	}
	return spec, nil
}

// AgentForRole returns the agent spec declaring the given role. When several
// agents share a role the lexicographically first name wins, so the choice is
// deterministic.
func (c *Config) AgentForRole(role string) (AgentSpec, error) {
	var found *AgentSpec
	for name := range c.Agents {
		spec := c.Agents[name]
		if spec.Role != role {
			continue
		}
		if found == nil || spec.Name < found.Name {
			found = &spec
		}
	}
	if found == nil {
		return AgentSpec{}, faults.Newf(faults.ErrorTypeConfig, "no agent configured for role %s", role)
	}
	return *found, nil
}

// GetTool returns the spec for a named tool provider.
func (c *Config) GetTool(name string) (ToolSpec, error) {
	spec, ok := c.Tools[name]
	if !ok {
		return ToolSpec{}, faults.Newf(faults.ErrorTypeConfig, "tool provider not found: %s", name)
	}
	return spec, nil
}

// AgentAllowsTool reports whether the named agent declares the given tool.
func (c *Config) AgentAllowsTool(agentName, toolName string) bool {
	spec, ok := c.Agents[agentName]
	if !ok {
		return false
	}
	for _, t := range spec.Tools {
		if t == toolName {
			return true
		}
	}
	return false
}

// ProviderForTool returns the name of the provider configured to expose the
// given tool, or false when no provider declares it.
func (c *Config) ProviderForTool(toolName string) (string, bool) {
	for name, tool := range c.Tools {
		for _, t := range tool.Tools {
			if t == toolName {
				return name, true
			}
		}
	}
	return "", false
}
