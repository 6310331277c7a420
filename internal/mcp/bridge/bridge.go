// Package bridge wires the Tool Executor into an S2S voice session.
//
// A [Bridge] translates between [tool.Executor]'s tool catalogue and an S2S
// session's native function-calling interface. On creation it declares the
// budget-appropriate tool set on the session and registers a
// [s2s.ToolCallHandler] that routes every tool call the model issues back
// through the Executor, the same dispatcher the classical pipeline's
// Session Orchestrator drives for cascade/Conversation engines. This keeps
// tool semantics — including the JSON {"ok":false,"reason":...} failure
// encoding — identical across both engine modes.
//
// Typical usage:
//
//	b, err := bridge.NewBridge(executor, session, types.BudgetStandard)
//	if err != nil { ... }
//	defer b.Close()
//
//	// mid-call, the orchestrator raises the tier after a slow lookup
//	if err := b.UpdateTier(ctx, types.BudgetDeep); err != nil { ... }
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/brightlinevoice/callcore/internal/tool"
	"github.com/brightlinevoice/callcore/pkg/s2s"
	"github.com/brightlinevoice/callcore/pkg/types"
)

// defaultToolTimeout is the context deadline applied to each tool execution
// when no external context is available (OnToolCall does not propagate a
// caller context). The Executor applies its own internal timeout too; this
// is a second, generous backstop.
const defaultToolTimeout = 30 * time.Second

// Option is a functional option for configuring a [Bridge].
type Option func(*Bridge)

// WithToolTimeout sets the deadline applied to each individual tool
// execution within the [s2s.ToolCallHandler]. The default is 30 seconds.
func WithToolTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.toolTimeout = d
	}
}

// Bridge wires the Tool Executor into an S2S session. It declares
// budget-appropriate tool definitions on the session and routes tool calls
// back through the Executor.
//
// The bridge is tied to a single S2S session and should be created when the
// session starts and discarded when it ends. Bridge is safe for concurrent use.
type Bridge struct {
	executor    *tool.Executor
	session     s2s.SessionHandle
	tier        types.BudgetTier
	toolTimeout time.Duration
}

// NewBridge creates a Bridge that declares tools from executor filtered by
// tier on the given S2S session. It immediately calls session.SetTools with
// the appropriate definitions and registers a ToolCallHandler via
// session.OnToolCall.
//
// Returns an error if either executor or session is nil, or if the initial
// session.SetTools call fails.
func NewBridge(executor *tool.Executor, session s2s.SessionHandle, tier types.BudgetTier, opts ...Option) (*Bridge, error) {
	if executor == nil {
		return nil, fmt.Errorf("bridge: executor must not be nil")
	}
	if session == nil {
		return nil, fmt.Errorf("bridge: session must not be nil")
	}

	b := &Bridge{
		executor:    executor,
		session:     session,
		tier:        tier,
		toolTimeout: defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}

	tools := executor.ToolDefinitions(tier)
	if err := session.SetTools(tools); err != nil {
		return nil, fmt.Errorf("bridge: failed to set initial tools for tier %s: %w", tier, err)
	}

	session.OnToolCall(b.handleToolCall)
	return b, nil
}

// handleToolCall is the [s2s.ToolCallHandler] registered on the session. It
// executes the named tool with the given JSON-encoded args and returns the
// tool's JSON result string unchanged — including application-level
// {"ok":false,...} failures, which are not Go errors and must flow
// straight back to the model as the function_call_output.
func (b *Bridge) handleToolCall(name string, args string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.toolTimeout)
	defer cancel()

	result, err := b.executor.Execute(ctx, name, args)
	if err != nil {
		return "", fmt.Errorf("bridge: tool %q execution failed: %w", name, err)
	}
	return result, nil
}

// UpdateTier changes the active budget tier, retrieves the newly
// appropriate tool set from the Executor, and updates the session via
// SetTools.
//
// ctx is respected for cancellation — if ctx is done before SetTools is
// called, UpdateTier returns without modifying the session.
func (b *Bridge) UpdateTier(ctx context.Context, newTier types.BudgetTier) error {
	tools := b.executor.ToolDefinitions(newTier)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bridge: context cancelled before updating tools: %w", err)
	}

	if err := b.session.SetTools(tools); err != nil {
		return fmt.Errorf("bridge: failed to update tools for tier %s: %w", newTier, err)
	}
	b.tier = newTier
	return nil
}

// Close deregisters the ToolCallHandler from the session. After Close, any
// tool call requests from the S2S model will not be handled. Close does not
// close the underlying session or Executor — callers are responsible for
// their own lifecycle management.
func (b *Bridge) Close() {
	b.session.OnToolCall(nil)
}
