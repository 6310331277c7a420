// Package engine implements the LLM Conversation Engine: it owns the
// dialog state for one call and turns a finalized caller utterance, a tool
// result, or a system nudge into a lazy sequence of sentence-flushed tokens
// terminated by end-of-turn or one or more tool calls.
//
// Token streaming is sentence-boundary-aware so the Session Orchestrator can
// start TTS mid-turn instead of waiting for the full completion. History is
// a bounded rolling window (default 20 turns) plus a pinned system prompt;
// turns pushed out of the window are folded into a single synthesized
// "context" pseudo-message rather than dropped outright.
//
// This package lives under internal/ because it encapsulates
// application-private dialog-management logic and is not intended to be
// imported by external code.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brightlinevoice/callcore/pkg/llm"
	"github.com/brightlinevoice/callcore/pkg/types"
)

// Message roles, matching the values pkg/llm.Provider implementations expect.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// DefaultHistoryWindow is the default number of recent turns kept
// verbatim before older turns are folded into a summary.
const DefaultHistoryWindow = 20

// defaultSentenceBuf sizes the channel returned to the orchestrator so a few
// flushed sentences can queue up without blocking the streaming goroutine.
const defaultSentenceBuf = 8

// summariseTimeout bounds the LLM call that condenses dropped turns. The
// fold runs on the turn path, so it must not eat into the first-token
// budget; past the deadline the deterministic digest is used instead.
const summariseTimeout = 2 * time.Second

// Engine is implemented by both the canonical single-model Conversation
// engine and the cascade dual-model speed variant, so the Session
// Orchestrator can drive either through one interface; the classical
// pipeline is canonical and cascade is opt-in per tenant.
type Engine interface {
	// Respond submits event (a finalized caller utterance, a tool result
	// message, or a system nudge) and returns a Turn streaming the reply
	// sentence-by-sentence. tools is the tool set to offer this turn; pass
	// nil to disable tool calling for the turn.
	Respond(ctx context.Context, event types.Message, tools []types.ToolDefinition) (*Turn, error)

	// TruncateToSpoken replaces the most recent assistant turn in history
	// with spoken, the prefix that was actually heard before a barge-in
	// interrupted synthesis, so history reflects what was actually heard. It is a no-op if the last history entry is not an
	// assistant turn.
	TruncateToSpoken(spoken string)

	// Close releases any resources held by the engine.
	Close() error
}

// Turn is one in-flight Respond call.
type Turn struct {
	// Sentences streams each sentence-boundary-flushed fragment of the
	// reply as it becomes available. It is closed when the turn ends,
	// whether by completion, tool call, or error.
	Sentences <-chan string

	toolCalls atomic.Pointer[[]types.LLMToolCall]
	text      atomic.Pointer[string]
	err       atomic.Pointer[error]
	done      chan struct{}
}

func newTurn() *Turn {
	return &Turn{done: make(chan struct{})}
}

// NewTurn constructs a Turn wrapping sentences, for use by alternate Engine
// implementations (e.g. cascade) that need to build a Turn outside this
// package. The caller is responsible for closing sentences and eventually
// calling Finish.
func NewTurn(sentences <-chan string) *Turn {
	t := newTurn()
	t.Sentences = sentences
	return t
}

// Finish records the turn's outcome and signals Done. It is the exported
// counterpart of the internal finish method, for alternate Engine
// implementations outside this package.
func (t *Turn) Finish(text string, calls []types.LLMToolCall, err error) {
	t.finish(text, calls, err)
}

// Wait blocks until the turn has finished producing sentences.
func (t *Turn) Wait() {
	<-t.done
}

// Done returns a channel closed when the turn finishes.
func (t *Turn) Done() <-chan struct{} { return t.done }

// ToolCalls returns any tool calls the model requested to end the turn.
// Only meaningful after Wait returns (or Done is closed).
func (t *Turn) ToolCalls() []types.LLMToolCall {
	if p := t.toolCalls.Load(); p != nil {
		return *p
	}
	return nil
}

// Text returns the full accumulated reply text. Only meaningful after Wait.
func (t *Turn) Text() string {
	if p := t.text.Load(); p != nil {
		return *p
	}
	return ""
}

// Err returns the error that ended the turn early, or nil.
func (t *Turn) Err() error {
	if p := t.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (t *Turn) finish(text string, calls []types.LLMToolCall, err error) {
	t.text.Store(&text)
	t.toolCalls.Store(&calls)
	if err != nil {
		t.err.Store(&err)
	}
	close(t.done)
}

// Conversation is the canonical single-model implementation of Engine.
//
// Conversation is NOT safe for concurrent Respond calls; the Session
// Orchestrator drives one Conversation from its single logical task per
// call, so no internal locking is needed for the turn-taking sequence
// itself. TruncateToSpoken and Close may be called from the same task
// between turns.
type Conversation struct {
	provider     llm.Provider
	systemPrompt string
	window       int
	summariser   Summariser

	mu      sync.Mutex
	history []types.Message
	closed  bool
}

var _ Engine = (*Conversation)(nil)

// Option configures a Conversation.
type Option func(*Conversation)

// WithHistoryWindow overrides DefaultHistoryWindow.
func WithHistoryWindow(n int) Option {
	return func(c *Conversation) { c.window = n }
}

// WithSummariser makes history folds produce a real summary of the dropped
// turns via s instead of the deterministic digest. The digest remains the
// fallback when the summariser errors or times out.
func WithSummariser(s Summariser) Option {
	return func(c *Conversation) { c.summariser = s }
}

// New builds a Conversation engine backed by provider, using systemPrompt
// (the tenant's rendered persona) as the pinned system message.
func New(provider llm.Provider, systemPrompt string, opts ...Option) *Conversation {
	c := &Conversation{
		provider:     provider,
		systemPrompt: systemPrompt,
		window:       DefaultHistoryWindow,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Respond implements Engine.
func (c *Conversation) Respond(ctx context.Context, event types.Message, tools []types.ToolDefinition) (*Turn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("engine: conversation is closed")
	}
	if event.Content != "" || event.ToolCallID != "" {
		c.history = append(c.history, event)
	}
	c.foldHistoryLocked(ctx)
	msgs := make([]types.Message, len(c.history))
	copy(msgs, c.history)
	c.mu.Unlock()

	req := llm.CompletionRequest{
		SystemPrompt: c.systemPrompt,
		Messages:     msgs,
		Tools:        tools,
	}

	stream, err := c.provider.StreamCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("engine: stream completion: %w", err)
	}

	turn := newTurn()
	sentences := make(chan string, defaultSentenceBuf)
	turn.Sentences = sentences

	go c.drive(ctx, stream, sentences, turn)

	return turn, nil
}

// drive forwards sentence-flushed fragments from stream to sentences,
// accumulates the full reply, and appends it to history on success.
func (c *Conversation) drive(ctx context.Context, stream <-chan llm.Chunk, sentences chan<- string, turn *Turn) {
	defer close(sentences)

	var buf strings.Builder
	var full strings.Builder
	var calls []types.LLMToolCall

	flush := func(force bool) {
		for {
			idx := firstSentenceBoundary(buf.String())
			if idx < 0 {
				if force && buf.Len() > 0 {
					select {
					case sentences <- buf.String():
					case <-ctx.Done():
					}
					buf.Reset()
				}
				return
			}
			s := buf.String()[:idx+1]
			rest := strings.TrimLeft(buf.String()[idx+1:], " \t\n\r")
			buf.Reset()
			buf.WriteString(rest)
			select {
			case sentences <- s:
			case <-ctx.Done():
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			turn.finish(full.String(), calls, ctx.Err())
			return
		case chunk, ok := <-stream:
			if !ok {
				flush(true)
				turn.finish(full.String(), calls, nil)
				c.appendAssistant(full.String())
				return
			}
			if chunk.Text != "" {
				buf.WriteString(chunk.Text)
				full.WriteString(chunk.Text)
				flush(false)
			}
			if len(chunk.ToolCalls) > 0 {
				calls = append(calls, chunk.ToolCalls...)
			}
			if chunk.FinishReason != "" {
				flush(true)
				turn.finish(full.String(), calls, nil)
				if len(calls) == 0 {
					c.appendAssistant(full.String())
				} else {
					c.appendAssistantToolCalls(full.String(), calls)
				}
				return
			}
		}
	}
}

func (c *Conversation) appendAssistant(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, types.Message{Role: RoleAssistant, Content: text})
}

func (c *Conversation) appendAssistantToolCalls(text string, calls []types.LLMToolCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, types.Message{Role: RoleAssistant, Content: text, ToolCalls: calls})
}

// TruncateToSpoken implements Engine.
func (c *Conversation) TruncateToSpoken(spoken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return
	}
	last := &c.history[len(c.history)-1]
	if last.Role != RoleAssistant {
		return
	}
	last.Content = spoken
}

// foldHistoryLocked collapses the oldest turns into a single synthesized
// "context" pseudo-message once history exceeds the window. With a
// Summariser configured, the pseudo-turn is a real summary produced by a
// bounded LLM call (the lock is released for its duration — only the
// orchestrator's single task drives Respond, so history cannot change
// underneath it); when the summariser errors, times out, or is absent, the
// deterministic digest of the dropped turns is used instead so a slow or
// failing summary never stalls the turn.
//
// Must be called with c.mu held.
func (c *Conversation) foldHistoryLocked(ctx context.Context) {
	if len(c.history) <= c.window {
		return
	}
	overflow := len(c.history) - c.window
	dropped := make([]types.Message, overflow)
	copy(dropped, c.history[:overflow])

	var content string
	if c.summariser != nil {
		c.mu.Unlock()
		sctx, cancel := context.WithTimeout(ctx, summariseTimeout)
		summary, err := c.summariser.Summarise(sctx, dropped)
		cancel()
		c.mu.Lock()
		if err != nil {
			slog.Warn("engine: history summarisation failed, using digest", "err", err)
		} else if summary != "" {
			content = "Earlier in this call: " + summary
		}
	}
	if content == "" {
		content = digestFragments(dropped)
	}

	pseudo := types.Message{Role: RoleSystem, Content: content}
	c.history = append([]types.Message{pseudo}, c.history[overflow:]...)
}

// digestFragments is the no-LLM fallback fold: the first words of each
// dropped turn, stitched into one line.
func digestFragments(dropped []types.Message) string {
	var b strings.Builder
	b.WriteString("Earlier in this call: ")
	for i, m := range dropped {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(summarizeFragment(m))
	}
	return b.String()
}

// summarizeFragment renders one dropped message as a short fragment for the
// folded "context" pseudo-turn.
func summarizeFragment(m types.Message) string {
	text := strings.TrimSpace(m.Content)
	const maxWords = 25
	words := strings.Fields(text)
	if len(words) > maxWords {
		words = words[:maxWords]
		text = strings.Join(words, " ") + "…"
	}
	switch m.Role {
	case RoleUser:
		return fmt.Sprintf("caller said %q.", text)
	case RoleAssistant:
		return fmt.Sprintf("agent said %q.", text)
	default:
		return text
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// immediately followed by whitespace, or -1 if there is none. The cascade
// engine uses the identical rule to find TTS flush points.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// Close implements Engine.
func (c *Conversation) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
