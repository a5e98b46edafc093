package agent

import (
	"context"
	"encoding/json"
	"time"

	"veracity/pkg/agent/llm"
	"veracity/pkg/config"
	"veracity/pkg/faults"
	"veracity/pkg/logx"
	"veracity/pkg/mcp"
	"veracity/pkg/utils"
)

const (
	// DefaultInvocationTimeout bounds a single capability call.
	DefaultInvocationTimeout = 120 * time.Second
	// defaultMaxToolRounds bounds the tool loop for one task.
	defaultMaxToolRounds = 8
	// defaultTemperature keeps extraction and verification output stable.
	defaultTemperature = 0.2
)

// Task is one unit of work for an agent role. AnalysisID labels usage
// metrics so per-analysis token totals can be queried later.
type Task struct {
	Agent      string
	Kind       TaskKind
	Payload    string
	AnalysisID int64
}

// Result is the parsed outcome of an executed task. Exactly one of the typed
// fields is populated, selected by Kind.
type Result struct {
	Kind         TaskKind
	Raw          string
	Document     *DocumentSummary
	Claims       *ClaimList
	Verification *VerificationVerdict
	Report       *ReportText
	Review       *ReviewVerdict
}

// ClientProvider resolves model identifiers to capability clients.
// ClientFactory is the production implementation; tests substitute stubs.
type ClientProvider interface {
	ClientForModel(model string) (llm.LLMClient, error)
}

// Executor runs tasks against capability models. It builds the bounded task
// context, drives the tool loop through the connection manager, and parses
// the final response into the expected shape for the task kind.
type Executor struct {
	cfg           *config.Config
	tools         *mcp.Manager
	factory       ClientProvider
	counter       *utils.TokenCounter
	timeout       time.Duration
	maxToolRounds int
	logger        *logx.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithInvocationTimeout overrides the per-invocation timeout.
func WithInvocationTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithClientProvider overrides the capability client source. Tests use this
// to substitute a stub client.
func WithClientProvider(p ClientProvider) ExecutorOption {
	return func(e *Executor) { e.factory = p }
}

// NewExecutor creates a task executor over the given configuration and tool
// connection manager.
func NewExecutor(cfg *config.Config, tools *mcp.Manager, opts ...ExecutorOption) (*Executor, error) {
	counter, err := utils.NewTokenCounter(config.DefaultModel)
	if err != nil {
		return nil, faults.WithCause(faults.ErrorTypeConfig, err, "failed to create token counter")
	}

	e := &Executor{
		cfg:           cfg,
		tools:         tools,
		factory:       NewClientFactory(),
		counter:       counter,
		timeout:       DefaultInvocationTimeout,
		maxToolRounds: defaultMaxToolRounds,
		logger:        logx.NewLogger("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute runs one task to completion: bounded context construction, the tool
// loop, and result parsing. Permission failures from the connection manager
// propagate unchanged; every other failure is returned classified so the
// orchestrator can apply phase policy.
func (e *Executor) Execute(ctx context.Context, task Task) (*Result, error) {
	spec, err := e.cfg.GetAgent(task.Agent)
	if err != nil {
		return nil, err
	}

	client, err := e.factory.ClientForModel(spec.Model)
	if err != nil {
		return nil, err
	}

	toolDefs, err := e.toolDefinitions(ctx, task.Agent)
	if err != nil {
		return nil, err
	}

	payload := e.counter.TruncateToTokens(task.Payload, spec.MaxContextTokens)
	messages := []llm.CompletionMessage{
		llm.NewSystemMessage(spec.Instruction),
		llm.NewUserMessage(payload),
	}

	content, err := e.runToolLoop(ctx, client, task, messages, toolDefs, spec.MaxReplyTokens)
	if err != nil {
		return nil, err
	}

	return e.parseResult(task.Kind, content)
}

// runToolLoop alternates completions and tool invocations until the model
// produces a final answer or the round budget runs out.
func (e *Executor) runToolLoop(
	ctx context.Context,
	client llm.LLMClient,
	task Task,
	messages []llm.CompletionMessage,
	toolDefs []llm.ToolDefinition,
	maxReplyTokens int,
) (string, error) {
	for round := 0; round < e.maxToolRounds; round++ {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		resp, err := client.Complete(callCtx, llm.CompletionRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Temperature: defaultTemperature,
			MaxTokens:   maxReplyTokens,
		})
		cancel()
		if err != nil {
			return "", err
		}

		recordUsage(task.AnalysisID, client.GetModelName(),
			e.promptTokens(messages), e.counter.CountTokens(resp.Content))

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		e.logger.Debug("agent %s requested %d tool calls (round %d)", task.Agent, len(resp.ToolCalls), round+1)

		messages = append(messages, llm.CompletionMessage{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for i := range resp.ToolCalls {
			call := &resp.ToolCalls[i]
			out, invokeErr := e.tools.Invoke(ctx, task.Agent, call.Name, call.Parameters)
			if invokeErr != nil {
				if faults.Is(invokeErr, faults.ErrorTypePermission) {
					return "", invokeErr
				}
				// Non-permission tool failures go back to the model, which
				// may recover or answer without the tool.
				results = append(results, llm.ToolResult{
					ToolCallID: call.ID,
					Name:       call.Name,
					Content:    invokeErr.Error(),
					IsError:    true,
				})
				continue
			}
			results = append(results, llm.ToolResult{
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    out,
			})
		}

		messages = append(messages, llm.CompletionMessage{
			Role:        llm.RoleUser,
			ToolResults: results,
		})
	}

	return "", faults.Newf(faults.ErrorTypeAgentExecution,
		"agent %s exceeded %d tool rounds without a final answer", task.Agent, e.maxToolRounds)
}

// promptTokens estimates the token size of an outgoing transcript.
func (e *Executor) promptTokens(messages []llm.CompletionMessage) int {
	total := 0
	for i := range messages {
		total += e.counter.CountTokens(messages[i].Content)
		for j := range messages[i].ToolResults {
			total += e.counter.CountTokens(messages[i].ToolResults[j].Content)
		}
	}
	return total
}

// toolDefinitions fetches the agent's permitted tools and decodes their
// schemas into the provider-neutral definition shape.
func (e *Executor) toolDefinitions(ctx context.Context, agentName string) ([]llm.ToolDefinition, error) {
	descriptors, err := e.tools.ToolsFor(ctx, agentName)
	if err != nil {
		return nil, err
	}

	defs := make([]llm.ToolDefinition, 0, len(descriptors))
	for i := range descriptors {
		d := &descriptors[i]
		def := llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
		}
		if len(d.InputSchema) > 0 {
			var schema struct {
				Properties map[string]map[string]any `json:"properties"`
				Required   []string                  `json:"required"`
			}
			if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
				e.logger.Warn("tool %s has undecodable schema, passing without parameters: %v", d.Name, err)
			} else {
				def.Properties = schema.Properties
				def.Required = schema.Required
			}
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (e *Executor) parseResult(kind TaskKind, content string) (*Result, error) {
	result := &Result{Kind: kind, Raw: content}

	var err error
	switch kind {
	case KindProcessDocument:
		result.Document, err = ParseDocumentSummary(content)
	case KindExtractClaims:
		result.Claims, err = ParseClaimList(content)
	case KindVerifyClaim:
		result.Verification, err = ParseVerificationVerdict(content)
	case KindWriteReport:
		result.Report, err = ParseReportText(content)
	case KindReviewReport:
		result.Review, err = ParseReviewVerdict(content)
	default:
		err = faults.Newf(faults.ErrorTypeMalformedResult, "unknown task kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
