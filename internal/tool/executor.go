// Package tool implements the Tool Executor: the four registered
// tools (lookup_project_status, transfer_to_human, capture_lead_answer,
// end_call), caller verification, and per-call timeouts.
//
// lookup_project_status is registered as a built-in tool on the shared MCP
// host so it participates in the host's latency calibration and
// budget-tier assignment like any external MCP tool (it is, after all, the
// one tool that makes a real network round trip to a PM system). The other
// three tools are pure in-process orchestrator actions — no external call,
// so no calibration is useful — and are dispatched directly.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/brightlinevoice/callcore/internal/mcp/mcphost"
	"github.com/brightlinevoice/callcore/internal/project"
	"github.com/brightlinevoice/callcore/internal/verify"
	"github.com/brightlinevoice/callcore/pkg/types"
)

// Names of the four registered tools.
const (
	ToolLookupProjectStatus = "lookup_project_status"
	ToolTransferToHuman     = "transfer_to_human"
	ToolCaptureLeadAnswer   = "capture_lead_answer"
	ToolEndCall             = "end_call"
)

// DefaultTimeout bounds every tool invocation at 4 s unless the Executor is
// constructed with a different timeout.
const DefaultTimeout = 4 * time.Second

// Executor resolves tool calls requested by the LLM Conversation Engine
// against the four registered handlers and returns structured, JSON-encoded
// results. It never returns a Go error for application-level tool failures
// — those are encoded as {"ok":false,"reason":"..."} in the result string —
// — tools never throw into the orchestrator. A non-nil error
// return means the call could not be dispatched at all (unknown tool name).
//
// Executor is created once per call (it closes over the call's immutable
// TenantContext) and is driven exclusively by the Session Orchestrator's
// single task, so its lead-flow pointer needs no additional locking beyond
// what's here for safety against accidental concurrent use in tests.
type Executor struct {
	host     *mcphost.Host
	tenant   *types.TenantContext
	verifier *verify.Verifier
	provider project.Provider // may be nil if the tenant has no PM integration
	timeout  time.Duration

	mu          sync.Mutex
	leadPtr     int
	leadAnswers map[string]string
}

// NewExecutor builds an Executor for one call. projectProvider may be nil
// if the tenant has no PM integration configured (PMIntegrationHandle ==
// ""); lookup_project_status then always returns {found:false}.
func NewExecutor(host *mcphost.Host, tenant *types.TenantContext, projectProvider project.Provider, verifier *verify.Verifier, timeout time.Duration) (*Executor, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	e := &Executor{
		host:        host,
		tenant:      tenant,
		verifier:    verifier,
		provider:    projectProvider,
		timeout:     timeout,
		leadAnswers: make(map[string]string),
	}

	if host != nil {
		err := host.RegisterBuiltin(mcphost.BuiltinTool{
			Definition:  lookupProjectStatusDefinition(),
			Handler:     e.handleLookupProjectStatus,
			DeclaredP50: 800,
			DeclaredMax: 3000,
		})
		if err != nil {
			return nil, fmt.Errorf("tool: register %s: %w", ToolLookupProjectStatus, err)
		}
	}
	return e, nil
}

// ToolDefinitions returns the tool schemas to offer the LLM: the
// host-calibrated lookup_project_status tool (filtered to tier) plus the
// three always-available control tools, which are cheap enough to offer at
// every tier.
func (e *Executor) ToolDefinitions(tier types.BudgetTier) []types.ToolDefinition {
	var defs []types.ToolDefinition
	if e.host != nil {
		defs = append(defs, e.host.AvailableTools(tier)...)
	}
	defs = append(defs, transferToHumanDefinition(), captureLeadAnswerDefinition(e.tenant), endCallDefinition())
	return defs
}

// Execute dispatches name with the given JSON argument object, enforcing
// the per-call timeout. The returned string is always a JSON object ready
// to feed back to the LLM as a tool result message.
func (e *Executor) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch name {
	case ToolLookupProjectStatus:
		if e.host == nil {
			return `{"found":false,"reason":"unavailable"}`, nil
		}
		result, err := e.host.ExecuteTool(ctx, ToolLookupProjectStatus, argsJSON)
		if err != nil {
			return toolTimeoutResult(ctx), nil
		}
		return result.Content, nil
	case ToolTransferToHuman:
		return e.executeTransferToHuman(argsJSON), nil
	case ToolCaptureLeadAnswer:
		return e.executeCaptureLeadAnswer(argsJSON), nil
	case ToolEndCall:
		return e.executeEndCall(argsJSON), nil
	default:
		return "", fmt.Errorf("tool: unknown tool %q", name)
	}
}

func toolTimeoutResult(ctx context.Context) string {
	if ctx.Err() != nil {
		return `{"ok":false,"reason":"timeout"}`
	}
	return `{"ok":false,"reason":"error"}`
}

// --- lookup_project_status -------------------------------------------------

func lookupProjectStatusDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        ToolLookupProjectStatus,
		Description: "Look up the current status of a caller's project by name or description hint. Requires the caller to be verified.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"project_hint": map[string]any{"type": "string", "description": "Project name or fragment the caller mentioned"},
				"caller_id":    map[string]any{"type": "string", "description": "Caller's ANI in E.164 form"},
				"caller_name":  map[string]any{"type": "string", "description": "Name the caller gave, if any, for verification path (b)"},
			},
			"required": []string{"project_hint", "caller_id"},
		},
		EstimatedDurationMs: 800,
		MaxDurationMs:       4000,
		Idempotent:          true,
		CacheableSeconds:    0,
	}
}

type lookupArgs struct {
	ProjectHint string `json:"project_hint"`
	CallerID    string `json:"caller_id"`
	CallerName  string `json:"caller_name"`
}

type lookupResult struct {
	Found            bool   `json:"found"`
	Reason           string `json:"reason,omitempty"`
	Name             string `json:"name,omitempty"`
	Status           string `json:"status,omitempty"`
	LastUpdateAt     string `json:"last_update_at,omitempty"`
	Summary          string `json:"summary,omitempty"`
	DeviatesFromScope *bool `json:"deviates_from_scope,omitempty"`
}

// handleLookupProjectStatus is registered as the builtin handler invoked by
// the MCP host; it enforces the safety rule that no project data is
// returned until the caller is verified.
func (e *Executor) handleLookupProjectStatus(ctx context.Context, argsJSON string) (string, error) {
	var args lookupArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return marshal(lookupResult{Found: false, Reason: "bad_arguments"}), nil
	}

	if e.provider == nil {
		return marshal(lookupResult{Found: false, Reason: "no_integration"}), nil
	}

	ref, err := e.provider.FindProject(ctx, args.ProjectHint, args.CallerID)
	if err != nil {
		return marshal(lookupResult{Found: false, Reason: "not_found"}), nil
	}

	verified := e.verifyCaller(ctx, args, *ref)
	if !verified {
		return marshal(lookupResult{Found: false, Reason: "unverified"}), nil
	}

	return marshal(lookupResult{
		Found:        true,
		Name:         ref.Name,
		Status:       ref.Status,
		LastUpdateAt: ref.LastUpdateAt,
		Summary:      summarizeActivity(ctx, e.provider, *ref),
	}), nil
}

func (e *Executor) verifyCaller(ctx context.Context, args lookupArgs, ref types.ProjectRef) bool {
	if e.verifier == nil {
		// No verifier configured (e.g. tests): fall back to a direct phone
		// comparison only.
		return ref.CallerPhone != "" && ref.CallerPhone == args.CallerID
	}
	// VerifyByPhone seeds the store best-effort after a match; a seeding
	// error does not invalidate the match itself.
	ok, err := e.verifier.VerifyByPhone(ctx, e.tenant.TenantID, args.CallerID, ref)
	if err != nil {
		slog.Warn("tool: caller record seeding failed", "tenant", e.tenant.TenantID, "err", err)
	}
	if ok {
		return true
	}
	if args.CallerName == "" {
		return false
	}
	matched, _, err := e.verifier.VerifyByNameProject(ctx, e.tenant.TenantID, args.CallerName, args.ProjectHint)
	return err == nil && matched
}

func summarizeActivity(ctx context.Context, provider project.Provider, ref types.ProjectRef) string {
	activity, err := provider.RecentActivity(ctx, ref, 3)
	if err != nil || len(activity) == 0 {
		return ref.Status
	}
	var b strings.Builder
	b.WriteString(ref.Status)
	for _, a := range activity {
		b.WriteString("; ")
		b.WriteString(a.Summary)
	}
	return b.String()
}

// --- transfer_to_human ------------------------------------------------------

func transferToHumanDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        ToolTransferToHuman,
		Description: "Transfer the call to a human agent at the tenant's escalation number.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{"type": "string"},
			},
			"required": []string{"reason"},
		},
		EstimatedDurationMs: 10,
		MaxDurationMs:       100,
		Idempotent:          false,
	}
}

type transferResult struct {
	Transferred bool   `json:"transferred"`
	ToNumber    string `json:"to_number,omitempty"`
}

func (e *Executor) executeTransferToHuman(argsJSON string) string {
	if e.tenant.EscalationPhone == "" {
		return marshal(transferResult{Transferred: false})
	}
	return marshal(transferResult{Transferred: true, ToNumber: e.tenant.EscalationPhone})
}

// --- capture_lead_answer -----------------------------------------------------

func captureLeadAnswerDefinition(tenant *types.TenantContext) types.ToolDefinition {
	return types.ToolDefinition{
		Name:        ToolCaptureLeadAnswer,
		Description: "Record the caller's answer to the current lead-capture question and advance to the next one.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question_id": map[string]any{"type": "string"},
				"answer":      map[string]any{"type": "string"},
			},
			"required": []string{"question_id", "answer"},
		},
		EstimatedDurationMs: 5,
		MaxDurationMs:       50,
		Idempotent:          false,
	}
}

type captureArgs struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

type captureResult struct {
	Accepted     bool          `json:"accepted"`
	Reason       string        `json:"reason,omitempty"`
	NextQuestion *nextQuestion `json:"next_question,omitempty"`
}

type nextQuestion struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (e *Executor) executeCaptureLeadAnswer(argsJSON string) string {
	var args captureArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return marshal(captureResult{Accepted: false, Reason: "bad_arguments"})
	}

	q, ok := e.questionByID(args.QuestionID)
	if !ok {
		return marshal(captureResult{Accepted: false, Reason: "unknown_question"})
	}
	if !validAnswer(q.Kind, args.Answer) {
		return marshal(captureResult{Accepted: false, Reason: "invalid_format"})
	}

	e.mu.Lock()
	e.leadAnswers[args.QuestionID] = args.Answer
	if e.leadPtr < len(e.tenant.LeadQuestions) && e.tenant.LeadQuestions[e.leadPtr].ID == args.QuestionID {
		e.leadPtr++
	}
	var next *nextQuestion
	if e.leadPtr < len(e.tenant.LeadQuestions) {
		nq := e.tenant.LeadQuestions[e.leadPtr]
		next = &nextQuestion{ID: nq.ID, Text: nq.Text}
	}
	e.mu.Unlock()

	return marshal(captureResult{Accepted: true, NextQuestion: next})
}

func (e *Executor) questionByID(id string) (types.LeadQuestion, bool) {
	for _, q := range e.tenant.LeadQuestions {
		if q.ID == id {
			return q, true
		}
	}
	return types.LeadQuestion{}, false
}

func validAnswer(kind types.LeadQuestionKind, answer string) bool {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return false
	}
	switch kind {
	case types.LeadQuestionEmail:
		_, err := mail.ParseAddress(answer)
		return err == nil
	case types.LeadQuestionPhone:
		digits := 0
		for _, r := range answer {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		return digits >= 7
	default:
		return true
	}
}

// LeadRecord returns the lead-capture sub-flow's current outcome, used by
// the Post-Call Finalizer to populate the artifact's Lead field.
func (e *Executor) LeadRecord() *types.LeadRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.leadAnswers) == 0 {
		return nil
	}
	answers := make(map[string]string, len(e.leadAnswers))
	for k, v := range e.leadAnswers {
		answers[k] = v
	}
	return &types.LeadRecord{
		Answers:   answers,
		Completed: e.leadPtr >= len(e.tenant.LeadQuestions),
	}
}

// --- end_call ----------------------------------------------------------------

func endCallDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        ToolEndCall,
		Description: "End the call gracefully after the current turn finishes speaking.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{"type": "string"},
			},
		},
		EstimatedDurationMs: 1,
		MaxDurationMs:       10,
		Idempotent:          true,
	}
}

func (e *Executor) executeEndCall(argsJSON string) string {
	return `{"ok":true}`
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"ok":false,"reason":"internal_error"}`
	}
	return string(b)
}
