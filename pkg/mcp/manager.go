package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"veracity/pkg/config"
	"veracity/pkg/faults"
	"veracity/pkg/logx"
)

// session is one live provider connection with its discovered inventory.
// The connect runs under the session's once, so concurrent callers of the
// same provider share a single attempt while other providers proceed
// independently.
type session struct {
	once   sync.Once
	client *Client
	tools  []ToolDescriptor
	err    error
}

// Manager owns the pool of provider sessions. Connections are established
// lazily on first use and reused for the lifetime of the manager. Tool
// inventories are discovered once per session and cached; the declared names
// in configuration back permission checks, the live inventory backs routing.
type Manager struct {
	cfg    *config.Config
	logger *logx.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewManager creates a connection manager over the configured providers. No
// connections are opened until a tool is first needed.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logx.NewLogger("mcp"),
		sessions: make(map[string]*session),
	}
}

// acquire returns the live session for a named provider, connecting and
// discovering its tool inventory if this is the first use. The manager lock
// covers only the session map: the connect itself runs outside it, so one
// provider's slow handshake never stalls calls against other providers or
// already-cached sessions.
func (m *Manager) acquire(ctx context.Context, providerName string) (*session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, faults.New(faults.ErrorTypeConnection, "connection manager is closed")
	}
	s, ok := m.sessions[providerName]
	if !ok {
		s = &session{}
		m.sessions[providerName] = s
	}
	m.mu.Unlock()

	s.once.Do(func() { m.connect(ctx, providerName, s) })

	if s.err != nil {
		// Drop the failed entry so a later call gets a fresh attempt.
		m.mu.Lock()
		if m.sessions[providerName] == s {
			delete(m.sessions, providerName)
		}
		m.mu.Unlock()
		return nil, s.err
	}
	return s, nil
}

// connect establishes the provider connection and discovers its tool
// inventory. Attempts are bounded by the provider's configured attempt count
// with exponential backoff between tries.
func (m *Manager) connect(ctx context.Context, providerName string, s *session) {
	spec, err := m.cfg.GetTool(providerName)
	if err != nil {
		s.err = err
		return
	}

	client := NewClient(spec.Name, spec.BaseURL, spec.AuthToken, spec.Timeout)

	retry := faults.DefaultRetryConfigs[faults.ErrorTypeConnection]
	delay := retry.InitialDelay

	var tools []ToolDescriptor
	var lastErr error
	for attempt := 1; attempt <= spec.ConnectAttempts; attempt++ {
		tools, lastErr = client.ListTools(ctx)
		if lastErr == nil {
			break
		}
		if !faults.IsRetryable(lastErr) || attempt == spec.ConnectAttempts {
			break
		}

		m.logger.Warn("provider %s connect attempt %d/%d failed: %v",
			providerName, attempt, spec.ConnectAttempts, lastErr)

		select {
		case <-ctx.Done():
			s.err = faults.WithCause(faults.ErrorTypeConnection, ctx.Err(),
				fmt.Sprintf("connect to provider %s canceled", providerName))
			return
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * retry.BackoffFactor)
		if delay > retry.MaxDelay {
			delay = retry.MaxDelay
		}
	}
	if lastErr != nil {
		s.err = faults.WithCause(faults.ErrorTypeConnection, lastErr,
			fmt.Sprintf("provider %s unavailable after %d attempts", providerName, spec.ConnectAttempts))
		return
	}

	m.logger.Info("provider %s connected, %d tools discovered", providerName, len(tools))
	s.client = client
	s.tools = tools
}

// ToolsFor returns the descriptors of every tool the named agent is permitted
// to use, connecting to the owning providers as needed. Tools the agent
// declares but the live provider does not expose are skipped with a warning
// rather than failing the whole set.
func (m *Manager) ToolsFor(ctx context.Context, agentName string) ([]ToolDescriptor, error) {
	spec, err := m.cfg.GetAgent(agentName)
	if err != nil {
		return nil, err
	}

	var descriptors []ToolDescriptor
	for _, toolName := range spec.Tools {
		providerName, ok := m.cfg.ProviderForTool(toolName)
		if !ok {
			// Unreachable after load-time validation, kept as a guard.
			return nil, faults.Newf(faults.ErrorTypeConfig, "no provider for tool %s", toolName)
		}

		s, err := m.acquire(ctx, providerName)
		if err != nil {
			return nil, err
		}

		found := false
		for _, d := range s.tools {
			if d.Name == toolName {
				descriptors = append(descriptors, d)
				found = true
				break
			}
		}
		if !found {
			m.logger.Warn("agent %s declares tool %s but provider %s does not expose it",
				agentName, toolName, providerName)
		}
	}
	return descriptors, nil
}

// Invoke calls a tool on behalf of an agent. The permission check runs before
// anything is sent to the provider: an agent calling a tool outside its
// declared set is a hard failure, never forwarded.
func (m *Manager) Invoke(ctx context.Context, agentName, toolName string, args map[string]any) (string, error) {
	if !m.cfg.AgentAllowsTool(agentName, toolName) {
		return "", faults.Newf(faults.ErrorTypePermission,
			"agent %s is not permitted to call tool %s", agentName, toolName)
	}

	providerName, ok := m.cfg.ProviderForTool(toolName)
	if !ok {
		return "", faults.Newf(faults.ErrorTypeConfig, "no provider for tool %s", toolName)
	}

	s, err := m.acquire(ctx, providerName)
	if err != nil {
		return "", err
	}

	m.logger.Debug("agent %s -> %s/%s", agentName, providerName, toolName)
	return s.client.CallTool(ctx, toolName, args)
}

// Close drops all sessions. Subsequent tool calls fail. Safe to call more
// than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for name := range m.sessions {
		delete(m.sessions, name)
	}
	m.logger.Info("connection manager closed")
	return nil
}
