package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aria-agents/aria/pkg/breaker"
	"github.com/aria-agents/aria/pkg/events"
	"github.com/aria-agents/aria/pkg/llm"
	"github.com/aria-agents/aria/pkg/metrics"
	"github.com/aria-agents/aria/pkg/models"
	"github.com/aria-agents/aria/pkg/services"
	"github.com/aria-agents/aria/pkg/skills"
)

// Store is the session persistence surface the engine writes through.
// Implemented by services.SessionService.
type Store interface {
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	AppendMessage(ctx context.Context, req models.AppendMessageRequest) (*models.ChatMessage, error)
	RecentMessages(ctx context.Context, sessionID string, n int) ([]*models.ChatMessage, error)
	SetSnapshots(ctx context.Context, id, systemPrompt, model string) error
}

// Resolver yields point-in-time agent and model lookups.
// Implemented by services.Registry.
type Resolver interface {
	ResolveAgent(id string) (models.Agent, error)
	ResolveModel(id string) (models.Model, error)
}

// Ledger records tool executions. Implemented by services.LedgerService.
type Ledger interface {
	Append(ctx context.Context, inv models.SkillInvocation) error
}

// Outcomes tracks per-agent runtime health. Implemented by
// services.AgentService.
type Outcomes interface {
	RecordOutcome(ctx context.Context, agentID string, success bool) error
}

// LLMClient is the proxy completion surface. Implemented by llm.Client.
type LLMClient interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// KernelPrompt renders the immutable kernel's system prompt sections.
// Implemented by kernel.Kernel.
type KernelPrompt interface {
	SystemPrompt() string
}

// Config bounds engine behavior.
type Config struct {
	MaxToolRounds   int // tool loop bound per turn
	MaxContentBytes int // user message size cap
	Workers         int // concurrent turns across all sessions
	HistoryLimit    int // message-count fallback when the model declares no window
}

// TurnResult is the outcome of one completed turn: the stored final
// assistant row plus the tool activity aggregated across all rounds.
type TurnResult struct {
	Message     *models.ChatMessage `json:"message"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// Engine executes chat turns: append user message, call the LLM, run the
// bounded tool loop, persist the final assistant message. Turns on one
// session are strictly serialized; concurrent sends fail fast.
type Engine struct {
	store    Store
	resolver Resolver
	llm      LLMClient
	skills   *skills.Registry
	ledger   Ledger
	outcomes Outcomes
	kernel   KernelPrompt
	breakers *breaker.Registry
	hub      *events.StreamHub
	metrics  *metrics.Metrics
	cfg      Config

	locks    *sessionLocks
	limiters *agentLimiters
	workers  chan struct{}
}

// New wires an Engine. hub and m may not be nil; pass a hub with no
// subscribers and a metrics set on a private registry in tests.
func New(store Store, resolver Resolver, llmClient LLMClient, skillReg *skills.Registry,
	ledger Ledger, outcomes Outcomes, kern KernelPrompt, breakers *breaker.Registry,
	hub *events.StreamHub, m *metrics.Metrics, cfg Config) *Engine {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 6
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = 64 * 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 32
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	return &Engine{
		store:    store,
		resolver: resolver,
		llm:      llmClient,
		skills:   skillReg,
		ledger:   ledger,
		outcomes: outcomes,
		kernel:   kern,
		breakers: breakers,
		hub:      hub,
		metrics:  m,
		cfg:      cfg,
		locks:    newSessionLocks(),
		limiters: newAgentLimiters(),
		workers:  make(chan struct{}, cfg.Workers),
	}
}

// SendMessage executes one turn. The user row is durable before the first
// LLM call; on any later failure an error-marked assistant row is appended
// and the session returns to idle.
func (e *Engine) SendMessage(ctx context.Context, sessionID string, req models.SendMessageRequest) (*TurnResult, error) {
	if req.Content == "" {
		return nil, ErrEmptyContent
	}
	if len(req.Content) > e.cfg.MaxContentBytes {
		return nil, fmt.Errorf("%w: %d bytes over %d cap", ErrContentTooLarge, len(req.Content), e.cfg.MaxContentBytes)
	}

	if !e.locks.TryAcquire(sessionID) {
		return nil, ErrSessionBusy
	}
	defer e.locks.Release(sessionID)

	select {
	case e.workers <- struct{}{}:
		defer func() { <-e.workers }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, services.ErrSessionNotActive
	}
	agent, err := e.resolver.ResolveAgent(sess.AgentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if !agent.Enabled || agent.Status == models.AgentStatusDisabled {
		return nil, fmt.Errorf("%w: %s", ErrAgentDisabled, agent.ID)
	}
	model, usingFallback, err := e.pickModel(agent)
	if err != nil {
		return nil, err
	}
	if !e.limiters.Allow(agent.ID, agent.RateLimit) {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, agent.ID)
	}

	e.metrics.ActiveTurns.Inc()
	defer e.metrics.ActiveTurns.Dec()
	started := time.Now()

	systemPrompt := e.systemPrompt(agent, sess)

	// Durable user append before any LLM traffic.
	if _, err := e.store.AppendMessage(ctx, models.AppendMessageRequest{
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   req.Content,
		AgentID:   agent.ID,
	}); err != nil {
		return nil, err
	}
	if err := e.store.SetSnapshots(ctx, sessionID, systemPrompt, model.ID); err != nil {
		slog.Warn("failed to snapshot session context", "session_id", sessionID, "error", err)
	}

	timeout := time.Duration(agent.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	turnCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := e.runToolLoop(turnCtx, sess, agent, model, usingFallback, systemPrompt, req)
	e.observeTurn(ctx, sessionID, agent.ID, started, err)
	return result, err
}

func (e *Engine) observeTurn(ctx context.Context, sessionID, agentID string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		e.hub.Publish(events.Frame{Type: events.FrameError, SessionID: sessionID, Data: err.Error()})
	}
	e.metrics.TurnsTotal.WithLabelValues(agentID, outcome).Inc()
	e.metrics.TurnDuration.WithLabelValues(agentID).Observe(time.Since(started).Seconds())
	if recErr := e.outcomes.RecordOutcome(ctx, agentID, err == nil); recErr != nil {
		slog.Warn("failed to record agent outcome", "agent_id", agentID, "error", recErr)
	}
}

// pickModel resolves the agent's model, falling back one hop when the
// primary's breaker is open.
func (e *Engine) pickModel(agent models.Agent) (models.Model, bool, error) {
	model, err := e.resolver.ResolveModel(agent.Model)
	if err != nil {
		return models.Model{}, false, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if !e.breakers.Get("model:" + model.ID).IsOpen() {
		return model, false, nil
	}
	if agent.FallbackModel == nil {
		return models.Model{}, false, fmt.Errorf("%w: breaker open for model %s", llm.ErrUpstreamUnavailable, model.ID)
	}
	fallback, err := e.resolver.ResolveModel(*agent.FallbackModel)
	if err != nil {
		return models.Model{}, false, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if e.breakers.Get("model:" + fallback.ID).IsOpen() {
		return models.Model{}, false, fmt.Errorf("%w: breakers open for %s and fallback %s",
			llm.ErrUpstreamUnavailable, model.ID, fallback.ID)
	}
	slog.Info("primary model breaker open, using fallback",
		"agent_id", agent.ID, "model", model.ID, "fallback", fallback.ID)
	return fallback, true, nil
}

// systemPrompt concatenates the kernel, agent, and session sections into the
// single system message of the turn.
func (e *Engine) systemPrompt(agent models.Agent, sess *models.ChatSession) string {
	sections := make([]string, 0, 3)
	if kp := e.kernel.SystemPrompt(); kp != "" {
		sections = append(sections, kp)
	}
	if agent.SystemPrompt != "" {
		sections = append(sections, agent.SystemPrompt)
	}
	if sess.SystemPromptSnapshot != "" && sess.SystemPromptSnapshot != agent.SystemPrompt {
		sections = append(sections, sess.SystemPromptSnapshot)
	}
	return strings.Join(sections, "\n\n")
}

func (e *Engine) runToolLoop(ctx context.Context, sess *models.ChatSession, agent models.Agent,
	model models.Model, usingFallback bool, systemPrompt string, req models.SendMessageRequest) (*TurnResult, error) {

	modelBreaker := e.breakers.Get("model:" + model.ID)
	var allCalls []models.ToolCall
	var allResults []models.ToolResult

	var tools []openai.Tool
	if req.EnableTools {
		tools = e.skills.ToolsFor(agent.Skills)
	}

	// toolRounds counts completed tool-dispatch rounds. Fallback retries of a
	// failed completion do not consume the budget.
	for toolRounds := 0; ; {
		history, err := e.loadHistory(ctx, sess.ID, model)
		if err != nil {
			return nil, err
		}

		llmStart := time.Now()
		resp, err := e.llm.Complete(ctx, llm.Request{
			Model:       model.ProxyModelString,
			Messages:    append([]openai.ChatCompletionMessage{systemMessage(systemPrompt)}, history...),
			Tools:       tools,
			Temperature: float32(agent.Temperature),
			MaxTokens:   maxTokensFor(agent, model),
		})
		if err != nil {
			modelBreaker.RecordFailure()
			if retryModel, ok := e.fallbackAfterFailure(agent, model, usingFallback, err); ok {
				model, usingFallback = retryModel, true
				modelBreaker = e.breakers.Get("model:" + model.ID)
				continue
			}
			e.appendErrorRow(ctx, sess.ID, agent.ID, model.ID, err)
			return nil, err
		}
		modelBreaker.RecordSuccess()
		latency := time.Since(llmStart)
		cost := model.Cost(resp.TokensInput, resp.TokensOutput)
		e.metrics.TokensTotal.WithLabelValues(model.ID, "input").Add(float64(resp.TokensInput))
		e.metrics.TokensTotal.WithLabelValues(model.ID, "output").Add(float64(resp.TokensOutput))

		if len(resp.ToolCalls) == 0 {
			thinking := ""
			if req.EnableThinking {
				thinking = resp.Thinking
			}
			msg, err := e.store.AppendMessage(ctx, models.AppendMessageRequest{
				SessionID:    sess.ID,
				Role:         models.RoleAssistant,
				Content:      resp.Content,
				Thinking:     thinking,
				Model:        model.ID,
				TokensInput:  resp.TokensInput,
				TokensOutput: resp.TokensOutput,
				Cost:         cost,
				LatencyMs:    latency.Milliseconds(),
				AgentID:      agent.ID,
			})
			if err != nil {
				return nil, e.classifyAppendFailure(err)
			}
			e.hub.Publish(events.Frame{Type: events.FrameFinal, SessionID: sess.ID, Data: msg})
			return &TurnResult{Message: msg, ToolCalls: allCalls, ToolResults: allResults}, nil
		}

		if toolRounds >= e.cfg.MaxToolRounds {
			err := fmt.Errorf("%w: %d rounds", ErrToolLoopExhausted, e.cfg.MaxToolRounds)
			e.appendErrorRow(ctx, sess.ID, agent.ID, model.ID, err)
			return nil, err
		}
		toolRounds++

		calls := toToolCalls(resp.ToolCalls)
		if _, err := e.store.AppendMessage(ctx, models.AppendMessageRequest{
			SessionID:    sess.ID,
			Role:         models.RoleAssistant,
			Content:      resp.Content,
			ToolCalls:    calls,
			Model:        model.ID,
			TokensInput:  resp.TokensInput,
			TokensOutput: resp.TokensOutput,
			Cost:         cost,
			LatencyMs:    latency.Milliseconds(),
			AgentID:      agent.ID,
		}); err != nil {
			return nil, e.classifyAppendFailure(err)
		}
		e.hub.Publish(events.Frame{Type: events.FrameToolCall, SessionID: sess.ID, Data: calls})
		allCalls = append(allCalls, calls...)

		roundTokens := resp.TokensInput + resp.TokensOutput
		for _, call := range calls {
			result := e.dispatchTool(ctx, model.ID, roundTokens, call)
			allResults = append(allResults, result)
			if _, err := e.store.AppendMessage(ctx, models.AppendMessageRequest{
				SessionID:   sess.ID,
				Role:        models.RoleTool,
				ToolResults: []models.ToolResult{result},
				AgentID:     agent.ID,
			}); err != nil {
				return nil, e.classifyAppendFailure(err)
			}
			e.hub.Publish(events.Frame{Type: events.FrameToolResult, SessionID: sess.ID, Data: result})

			if result.IsError && ctx.Err() != nil {
				// The tool burned the remaining turn budget; stop with
				// partial results rather than re-entering the LLM.
				err := fmt.Errorf("%w: %s", ErrToolDeadlineExceeded, call.Name)
				e.appendErrorRow(context.WithoutCancel(ctx), sess.ID, agent.ID, model.ID, err)
				return nil, err
			}
		}
	}
}

// fallbackAfterFailure decides whether a failed LLM call is retried on the
// fallback model. Only timeout and availability failures qualify, and only
// for the single allowed hop.
func (e *Engine) fallbackAfterFailure(agent models.Agent, model models.Model, usingFallback bool, err error) (models.Model, bool) {
	if usingFallback || agent.FallbackModel == nil {
		return models.Model{}, false
	}
	if !errors.Is(err, llm.ErrUpstreamTimeout) && !errors.Is(err, llm.ErrUpstreamUnavailable) {
		return models.Model{}, false
	}
	fallback, resolveErr := e.resolver.ResolveModel(*agent.FallbackModel)
	if resolveErr != nil || e.breakers.Get("model:"+fallback.ID).IsOpen() {
		return models.Model{}, false
	}
	slog.Info("retrying turn on fallback model",
		"agent_id", agent.ID, "model", model.ID, "fallback", fallback.ID, "error", err)
	return fallback, true
}

// dispatchTool runs one call under the per-skill breaker and per-tool
// deadline, and writes the ledger row. tokens is the usage of the completion
// that requested the call.
func (e *Engine) dispatchTool(ctx context.Context, modelID string, tokens int, call models.ToolCall) models.ToolResult {
	result := models.ToolResult{CallID: call.ID, Name: call.Name}
	started := time.Now()

	tool, err := e.skills.Resolve(call.Name)
	if err != nil {
		result.IsError = true
		result.Content = err.Error()
		e.recordInvocation(ctx, call.Name, call.Name, modelID, tokens, started, "unknown_tool", false)
		return result
	}

	skillBreaker := e.breakers.Get("skill:" + tool.SkillName)
	if skillBreaker.IsOpen() {
		result.IsError = true
		result.Content = fmt.Sprintf("skill %s temporarily disabled after repeated failures", tool.SkillName)
		e.recordInvocation(ctx, tool.SkillName, tool.Spec.Name, modelID, tokens, started, "breaker_open", false)
		return result
	}

	toolCtx, cancel := context.WithTimeout(ctx, tool.Timeout())
	defer cancel()

	content, err := tool.Invoke(toolCtx, json.RawMessage(call.Arguments))
	result.DurationMs = time.Since(started).Milliseconds()
	if err != nil {
		skillBreaker.RecordFailure()
		result.IsError = true
		result.Content = err.Error()
		e.recordInvocation(ctx, tool.SkillName, tool.Spec.Name, modelID, tokens, started, errorClass(err), false)
		return result
	}
	skillBreaker.RecordSuccess()
	result.Content = content
	e.recordInvocation(ctx, tool.SkillName, tool.Spec.Name, modelID, tokens, started, "", true)
	return result
}

func (e *Engine) recordInvocation(ctx context.Context, skill, tool, modelID string, tokens int, started time.Time, errType string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	e.metrics.ToolCallsTotal.WithLabelValues(skill, outcome).Inc()
	if err := e.ledger.Append(context.WithoutCancel(ctx), models.SkillInvocation{
		SkillName:  skill,
		ToolName:   tool,
		DurationMs: time.Since(started).Milliseconds(),
		Success:    success,
		ErrorType:  errType,
		TokensUsed: tokens,
		ModelUsed:  modelID,
	}); err != nil {
		slog.Warn("failed to append skill invocation", "skill", skill, "tool", tool, "error", err)
	}
}

// appendErrorRow leaves an error-marked assistant row so the session returns
// to idle with the failure visible in history. Best effort.
func (e *Engine) appendErrorRow(ctx context.Context, sessionID, agentID, modelID string, turnErr error) {
	if _, err := e.store.AppendMessage(context.WithoutCancel(ctx), models.AppendMessageRequest{
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   fmt.Sprintf("The turn could not be completed: %v", turnErr),
		Model:     modelID,
		AgentID:   agentID,
		Metadata:  map[string]any{"error": errorClass(turnErr)},
	}); err != nil {
		slog.Warn("failed to append error row", "session_id", sessionID, "error", err)
	}
}

// classifyAppendFailure distinguishes a session that was terminated while
// the turn was in flight from other persistence failures. Already-appended
// rows remain either way.
func (e *Engine) classifyAppendFailure(err error) error {
	if errors.Is(err, services.ErrSessionNotActive) {
		return fmt.Errorf("%w: %v", ErrTerminatedMidTurn, err)
	}
	return err
}

func (e *Engine) loadHistory(ctx context.Context, sessionID string, model models.Model) ([]openai.ChatCompletionMessage, error) {
	limit := e.cfg.HistoryLimit
	if model.ContextWindow > 0 && model.ContextWindow < limit {
		limit = model.ContextWindow
	}
	msgs, err := e.store.RecentMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return toOpenAIMessages(msgs), nil
}

func maxTokensFor(agent models.Agent, model models.Model) int {
	if agent.MaxTokens > 0 {
		return agent.MaxTokens
	}
	return model.MaxTokens
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, llm.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, llm.ErrUpstreamUnavailable):
		return "unavailable"
	case errors.Is(err, llm.ErrUpstreamBadRequest):
		return "bad_request"
	case errors.Is(err, llm.ErrUpstreamRateLimited):
		return "rate_limited"
	case errors.Is(err, skills.ErrInvalidArguments):
		return "invalid_arguments"
	case errors.Is(err, ErrToolLoopExhausted):
		return "tool_loop_exhausted"
	case errors.Is(err, ErrToolDeadlineExceeded):
		return "tool_deadline"
	default:
		return "internal"
	}
}

func systemMessage(prompt string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt}
}

// toOpenAIMessages converts stored rows to the wire shape. System rows never
// occur in history; the single system message is prepended by the caller.
func toOpenAIMessages(msgs []*models.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case models.RoleAssistant:
			wire := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, call := range m.ToolCalls {
				wire.ToolCalls = append(wire.ToolCalls, openai.ToolCall{
					ID:       call.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: call.Name, Arguments: call.Arguments},
				})
			}
			out = append(out, wire)
		case models.RoleTool:
			for _, result := range m.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    result.Content,
					Name:       result.Name,
					ToolCallID: result.CallID,
				})
			}
		}
	}
	return out
}

func toToolCalls(calls []openai.ToolCall) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, models.ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: c.Function.Arguments})
	}
	return out
}
