// Package cascade implements an opt-in dual-model sentence cascade Engine.
//
// The cascade reduces perceived latency by starting TTS playback on a fast
// model's opening sentence while a stronger model generates the substantive
// continuation. The two outputs are stitched into one seamless reply.
//
// # Architecture
//
//  1. Caller's utterance arrives as the turn's event.
//  2. Fast model generates only the first sentence (~200ms TTFT).
//  3. The opener is flushed to Sentences immediately.
//  4. Strong model receives the same prompt plus the fast model's opener as
//     a forced assistant-role continuation prefix.
//  5. The strong model's sentences stream to the same Turn.Sentences channel.
//
// This is opt-in per tenant via the engine_mode configuration and
// is not recommended for short replies where a single fast model suffices.
package cascade

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/brightlinevoice/callcore/internal/engine"
	"github.com/brightlinevoice/callcore/pkg/llm"
	"github.com/brightlinevoice/callcore/pkg/types"
)

// defaultOpenerSuffix constrains the fast model to a brief opening reaction.
const defaultOpenerSuffix = "Generate only a brief opening reaction. Do not reveal key information in the first sentence."

// defaultSentenceBuf is the buffer depth of a Turn's Sentences channel.
const defaultSentenceBuf = 16

// Engine implements [engine.Engine] using a dual-model sentence cascade.
//
// Engine is NOT safe for concurrent Respond calls, matching [engine.Engine]'s
// single-task-per-call contract; each Respond spawns an independent
// goroutine for the strong-model stage that the returned Turn synchronizes.
type Engine struct {
	fastLLM   llm.Provider
	strongLLM llm.Provider

	systemPrompt string
	openerSuffix string
	window       int

	mu      sync.Mutex
	history []types.Message
	closed  bool

	wg sync.WaitGroup
}

var _ engine.Engine = (*Engine)(nil)

// Option configures an Engine during construction.
type Option func(*Engine)

// WithOpenerPromptSuffix overrides the default fast-model instruction.
func WithOpenerPromptSuffix(s string) Option {
	return func(e *Engine) { e.openerSuffix = s }
}

// WithHistoryWindow overrides engine.DefaultHistoryWindow.
func WithHistoryWindow(n int) Option {
	return func(e *Engine) { e.window = n }
}

// New constructs a cascade Engine. fastLLM produces the opener; strongLLM
// produces the continuation. systemPrompt is the tenant's rendered persona.
func New(fastLLM, strongLLM llm.Provider, systemPrompt string, opts ...Option) *Engine {
	e := &Engine{
		fastLLM:      fastLLM,
		strongLLM:    strongLLM,
		systemPrompt: systemPrompt,
		openerSuffix: defaultOpenerSuffix,
		window:       engine.DefaultHistoryWindow,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Respond implements engine.Engine.
func (e *Engine) Respond(ctx context.Context, event types.Message, tools []types.ToolDefinition) (*engine.Turn, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("cascade: engine is closed")
	}
	if event.Content != "" || event.ToolCallID != "" {
		e.history = append(e.history, event)
	}
	e.foldHistoryLocked()
	msgs := make([]types.Message, len(e.history))
	copy(msgs, e.history)
	e.mu.Unlock()

	fastReq := e.buildFastPrompt(msgs)
	fastCh, err := e.fastLLM.StreamCompletion(ctx, fastReq)
	if err != nil {
		return nil, fmt.Errorf("cascade: fast model stream failed: %w", err)
	}

	opener, fastFull := collectFirstSentence(ctx, fastCh)
	if opener == "" {
		opener = "..."
	}

	sentences := make(chan string, defaultSentenceBuf)
	turn := engine.NewTurn(sentences)

	if fastFull {
		// Single-model path: the fast model's reply was one sentence or
		// fewer, so no strong-model continuation is needed.
		sentences <- opener
		close(sentences)
		turn.Finish(opener, nil, nil)
		e.appendAssistant(opener, nil)
		return turn, nil
	}

	strongReq := e.buildStrongPrompt(msgs, tools, opener)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(sentences)

		select {
		case sentences <- opener:
		case <-ctx.Done():
			turn.Finish(opener, nil, ctx.Err())
			return
		}

		strongCh, err := e.strongLLM.StreamCompletion(ctx, strongReq)
		if err != nil {
			turn.Finish(opener, nil, fmt.Errorf("cascade: strong model stream failed: %w", err))
			return
		}

		full, calls := e.forwardSentences(ctx, strongCh, sentences, opener)
		turn.Finish(full, calls, nil)
		if len(calls) == 0 {
			e.appendAssistant(full, nil)
		} else {
			e.appendAssistant(full, calls)
		}
	}()

	return turn, nil
}

// TruncateToSpoken implements engine.Engine.
func (e *Engine) TruncateToSpoken(spoken string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) == 0 {
		return
	}
	last := &e.history[len(e.history)-1]
	if last.Role != engine.RoleAssistant {
		return
	}
	last.Content = spoken
}

// Close implements engine.Engine. It waits for any in-flight strong-model
// goroutine to finish before returning.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

func (e *Engine) appendAssistant(text string, calls []types.LLMToolCall) {
	if text == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, types.Message{Role: engine.RoleAssistant, Content: text, ToolCalls: calls})
}

func (e *Engine) foldHistoryLocked() {
	if len(e.history) <= e.window {
		return
	}
	overflow := len(e.history) - e.window
	dropped := e.history[:overflow]
	kept := e.history[overflow:]

	var b strings.Builder
	b.WriteString("Earlier in this call: ")
	for i, m := range dropped {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(strings.TrimSpace(m.Content))
	}
	pseudo := types.Message{Role: engine.RoleSystem, Content: b.String()}
	e.history = append([]types.Message{pseudo}, kept...)
}

// buildFastPrompt appends the opener instruction and omits tools so the fast
// model stays fast and on-topic.
func (e *Engine) buildFastPrompt(history []types.Message) llm.CompletionRequest {
	sys := e.systemPrompt
	if e.openerSuffix != "" {
		sys = sys + "\n\n" + e.openerSuffix
	}
	return llm.CompletionRequest{
		SystemPrompt: sys,
		Messages:     history,
	}
}

// buildStrongPrompt injects opener as a forced assistant-role prefix so the
// strong model's output reads as a seamless continuation.
func (e *Engine) buildStrongPrompt(history []types.Message, tools []types.ToolDefinition, opener string) llm.CompletionRequest {
	msgs := make([]types.Message, len(history)+1)
	copy(msgs, history)
	msgs[len(history)] = types.Message{Role: engine.RoleAssistant, Content: opener}
	return llm.CompletionRequest{
		SystemPrompt: e.systemPrompt,
		Messages:     msgs,
		Tools:        tools,
	}
}

// collectFirstSentence reads chunks from ch and returns the first complete
// sentence. If the stream ends or finishes before a sentence boundary is
// found, the whole accumulated text is returned with full=true, meaning the
// fast model's reply needs no strong-model continuation.
func collectFirstSentence(ctx context.Context, ch <-chan llm.Chunk) (sentence string, full bool) {
	var buf strings.Builder
	for {
		select {
		case <-ctx.Done():
			return buf.String(), true
		case chunk, ok := <-ch:
			if !ok {
				return buf.String(), true
			}
			buf.WriteString(chunk.Text)
			if chunk.FinishReason != "" {
				return buf.String(), true
			}
			if idx := firstSentenceBoundary(buf.String()); idx >= 0 {
				s := buf.String()[:idx+1]
				go drainChunks(ch)
				return s, false
			}
		}
	}
}

// forwardSentences reads chunks from ch, flushes complete sentences to
// sentences, and returns the full text and any tool calls requested.
func (e *Engine) forwardSentences(ctx context.Context, ch <-chan llm.Chunk, sentences chan<- string, opener string) (string, []types.LLMToolCall) {
	var buf strings.Builder
	full := strings.Builder{}
	full.WriteString(opener)
	var calls []types.LLMToolCall

	for {
		select {
		case <-ctx.Done():
			return full.String(), calls
		case chunk, ok := <-ch:
			if !ok {
				if buf.Len() > 0 {
					select {
					case sentences <- buf.String():
					case <-ctx.Done():
					}
				}
				return full.String(), calls
			}
			if chunk.Text != "" {
				buf.WriteString(chunk.Text)
				full.WriteString(chunk.Text)
			}
			if len(chunk.ToolCalls) > 0 {
				calls = append(calls, chunk.ToolCalls...)
			}
			for {
				idx := firstSentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := buf.String()[:idx+1]
				rest := strings.TrimLeft(buf.String()[idx+1:], " \t\n\r")
				buf.Reset()
				buf.WriteString(rest)
				select {
				case sentences <- sentence:
				case <-ctx.Done():
					return full.String(), calls
				}
			}
			if chunk.FinishReason != "" {
				if buf.Len() > 0 {
					select {
					case sentences <- buf.String():
					case <-ctx.Done():
					}
				}
				return full.String(), calls
			}
		}
	}
}

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

func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
