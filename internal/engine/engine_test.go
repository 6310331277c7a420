package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brightlinevoice/callcore/internal/engine"
	"github.com/brightlinevoice/callcore/pkg/llm"
	llmmock "github.com/brightlinevoice/callcore/pkg/llm/mock"
	"github.com/brightlinevoice/callcore/pkg/types"
)

func collect(t *testing.T, turn *engine.Turn) []string {
	t.Helper()
	var got []string
	for s := range turn.Sentences {
		got = append(got, s)
	}
	turn.Wait()
	return got
}

func TestRespondFlushesOnSentenceBoundaries(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "One moment. Let me ch"},
		{Text: "eck on that"},
		{Text: " for you.", FinishReason: "stop"},
	}}
	e := engine.New(provider, "You are a receptionist.")
	t.Cleanup(func() { _ = e.Close() })

	turn, err := e.Respond(context.Background(), types.Message{Role: engine.RoleUser, Content: "Any update?"}, nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	got := collect(t, turn)
	if len(got) < 2 {
		t.Fatalf("expected at least two flushes, got %v", got)
	}
	if got[0] != "One moment." {
		t.Fatalf("first flush = %q", got[0])
	}
	if joined := strings.Join(got, ""); !strings.Contains(joined, "check on that for you.") {
		t.Fatalf("reassembled text = %q", joined)
	}
	if turn.Text() != "One moment. Let me check on that for you." {
		t.Fatalf("Text() = %q", turn.Text())
	}
	if turn.Err() != nil {
		t.Fatalf("turn error: %v", turn.Err())
	}
}

func TestRespondSurfacesToolCalls(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{ToolCalls: []types.LLMToolCall{{
			ID:        "call_1",
			Name:      "lookup_project_status",
			Arguments: `{"project_hint":"Straus"}`,
		}}, FinishReason: "tool_calls"},
	}}
	e := engine.New(provider, "You are a receptionist.")
	t.Cleanup(func() { _ = e.Close() })

	turn, err := e.Respond(context.Background(), types.Message{Role: engine.RoleUser, Content: "Status on Straus?"}, []types.ToolDefinition{{Name: "lookup_project_status"}})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	collect(t, turn)

	calls := turn.ToolCalls()
	if len(calls) != 1 || calls[0].Name != "lookup_project_status" {
		t.Fatalf("tool calls: %+v", calls)
	}
	if len(provider.StreamCalls) != 1 || len(provider.StreamCalls[0].Req.Tools) != 1 {
		t.Fatalf("tools not forwarded to provider: %+v", provider.StreamCalls)
	}
}

func TestTruncateToSpokenRewritesHistory(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Our whole team is available next week and ready to start.", FinishReason: "stop"},
	}}
	e := engine.New(provider, "You are a receptionist.")
	t.Cleanup(func() { _ = e.Close() })

	turn, err := e.Respond(context.Background(), types.Message{Role: engine.RoleUser, Content: "When can you start?"}, nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	collect(t, turn)

	// Caller interrupted after the first few words.
	e.TruncateToSpoken("Our whole team")

	turn2, err := e.Respond(context.Background(), types.Message{Role: engine.RoleUser, Content: "Sorry, go on."}, nil)
	if err != nil {
		t.Fatalf("second Respond: %v", err)
	}
	collect(t, turn2)

	req := provider.StreamCalls[1].Req
	var lastAssistant string
	for _, m := range req.Messages {
		if m.Role == engine.RoleAssistant {
			lastAssistant = m.Content
		}
	}
	if lastAssistant != "Our whole team" {
		t.Fatalf("history assistant turn = %q, want truncated prefix", lastAssistant)
	}
}

func TestHistoryFoldUsesSummariser(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "Noted.", FinishReason: "stop"}},
		CompleteResponse: &llm.CompletionResponse{
			Content: "The caller introduced themselves and asked about Project Straus.",
		},
	}
	e := engine.New(provider, "You are a receptionist.",
		engine.WithHistoryWindow(2),
		engine.WithSummariser(engine.NewLLMSummariser(provider)))
	t.Cleanup(func() { _ = e.Close() })

	for i := 0; i < 3; i++ {
		turn, err := e.Respond(context.Background(), types.Message{Role: engine.RoleUser, Content: "Another question"}, nil)
		if err != nil {
			t.Fatalf("Respond %d: %v", i, err)
		}
		collect(t, turn)
	}

	last := provider.StreamCalls[len(provider.StreamCalls)-1].Req
	first := last.Messages[0]
	want := "Earlier in this call: The caller introduced themselves and asked about Project Straus."
	if first.Role != engine.RoleSystem || first.Content != want {
		t.Fatalf("expected summarised pseudo-turn, got %+v", first)
	}
	if len(provider.CompleteCalls) == 0 {
		t.Fatalf("summariser never invoked the LLM")
	}
}

func TestHistoryFoldFallsBackToDigestOnSummariserError(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "Noted.", FinishReason: "stop"}},
		CompleteErr:  errors.New("summary backend down"),
	}
	e := engine.New(provider, "You are a receptionist.",
		engine.WithHistoryWindow(2),
		engine.WithSummariser(engine.NewLLMSummariser(provider)))
	t.Cleanup(func() { _ = e.Close() })

	for i := 0; i < 3; i++ {
		turn, err := e.Respond(context.Background(), types.Message{Role: engine.RoleUser, Content: "Another question"}, nil)
		if err != nil {
			t.Fatalf("Respond %d: %v", i, err)
		}
		collect(t, turn)
	}

	last := provider.StreamCalls[len(provider.StreamCalls)-1].Req
	first := last.Messages[0]
	if first.Role != engine.RoleSystem || !strings.HasPrefix(first.Content, "Earlier in this call:") {
		t.Fatalf("expected digest fallback pseudo-turn, got %+v", first)
	}
}

func TestHistoryFoldsIntoContextPseudoTurn(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Noted.", FinishReason: "stop"},
	}}
	e := engine.New(provider, "You are a receptionist.", engine.WithHistoryWindow(3))
	t.Cleanup(func() { _ = e.Close() })

	for i := 0; i < 4; i++ {
		turn, err := e.Respond(context.Background(), types.Message{Role: engine.RoleUser, Content: "Message number " + strings.Repeat("x", i+1)}, nil)
		if err != nil {
			t.Fatalf("Respond %d: %v", i, err)
		}
		collect(t, turn)
	}

	last := provider.StreamCalls[len(provider.StreamCalls)-1].Req
	first := last.Messages[0]
	if first.Role != engine.RoleSystem || !strings.HasPrefix(first.Content, "Earlier in this call:") {
		t.Fatalf("expected folded context pseudo-turn first, got %+v", first)
	}
	if len(last.Messages) > 4 {
		t.Fatalf("window not enforced: %d messages", len(last.Messages))
	}
}
