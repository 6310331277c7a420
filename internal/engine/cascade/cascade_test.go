package cascade_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brightlinevoice/callcore/internal/engine/cascade"
	"github.com/brightlinevoice/callcore/pkg/llm"
	llmmock "github.com/brightlinevoice/callcore/pkg/llm/mock"
	"github.com/brightlinevoice/callcore/pkg/types"
)

func TestRespond_SingleSentenceOpener_SkipsStrongModel(t *testing.T) {
	t.Parallel()

	fast := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Sure thing.", FinishReason: "stop"}}}
	strong := &llmmock.Provider{}

	e := cascade.New(fast, strong, "You are a friendly office assistant.")
	t.Cleanup(func() { _ = e.Close() })

	turn, err := e.Respond(context.Background(), types.Message{Role: "user", Content: "Hi"}, nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	var got []string
	for s := range turn.Sentences {
		got = append(got, s)
	}
	turn.Wait()
	if err := turn.Err(); err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if len(got) != 1 || got[0] != "Sure thing." {
		t.Fatalf("got sentences %v", got)
	}
	if len(strong.StreamCalls) != 0 {
		t.Fatalf("strong model should not have been called")
	}
}

func TestRespond_MultiSentence_InvokesStrongModelForContinuation(t *testing.T) {
	t.Parallel()

	fast := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "One moment. "},
		{Text: "Let me check that for you.", FinishReason: "stop"},
	}}
	strong := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Your project is on track.", FinishReason: "stop"},
	}}

	e := cascade.New(fast, strong, "You are a friendly office assistant.")
	t.Cleanup(func() { _ = e.Close() })

	turn, err := e.Respond(context.Background(), types.Message{Role: "user", Content: "Any updates?"}, nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	var got []string
	for s := range turn.Sentences {
		got = append(got, s)
	}
	turn.Wait()
	if err := turn.Err(); err != nil {
		t.Fatalf("turn error: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least the opener sentence")
	}
	if got[0] != "One moment. " {
		t.Fatalf("expected opener first, got %v", got)
	}
	if len(strong.StreamCalls) != 1 {
		t.Fatalf("expected exactly one strong-model call, got %d", len(strong.StreamCalls))
	}
	// The strong model's prompt carries the opener as a forced assistant prefix.
	req := strong.StreamCalls[0].Req
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "assistant" || last.Content != "One moment. " {
		t.Fatalf("expected forced assistant prefix, got %+v", last)
	}
}

func TestRespond_StrongModelFailure_SurfacesOnTurn(t *testing.T) {
	t.Parallel()

	fast := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "One moment. "},
		{Text: "more to come"},
	}}
	strong := &llmmock.Provider{StreamErr: errors.New("boom")}

	e := cascade.New(fast, strong, "You are a friendly office assistant.")
	t.Cleanup(func() { _ = e.Close() })

	turn, err := e.Respond(context.Background(), types.Message{Role: "user", Content: "Any updates?"}, nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	for range turn.Sentences {
	}
	turn.Wait()
	if turn.Err() == nil {
		t.Fatal("expected strong-model failure to surface")
	}
}

func TestTruncateToSpoken_ReplacesLastAssistantTurn(t *testing.T) {
	t.Parallel()

	fast := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Full reply here.", FinishReason: "stop"}}}
	strong := &llmmock.Provider{}

	e := cascade.New(fast, strong, "persona")
	t.Cleanup(func() { _ = e.Close() })

	turn, err := e.Respond(context.Background(), types.Message{Role: "user", Content: "hi"}, nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	for range turn.Sentences {
	}
	turn.Wait()

	e.TruncateToSpoken("Full reply")

	fast.StreamChunks = []llm.Chunk{{Text: "Continuing.", FinishReason: "stop"}}
	turn2, err := e.Respond(context.Background(), types.Message{Role: "user", Content: "go on"}, nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	for range turn2.Sentences {
	}
	turn2.Wait()

	req := fast.StreamCalls[len(fast.StreamCalls)-1].Req
	for _, m := range req.Messages {
		if m.Role == "assistant" && m.Content == "Full reply here." {
			t.Fatal("untruncated assistant content leaked into history")
		}
	}
}

func TestClose_WaitsForInFlightStrongModel(t *testing.T) {
	t.Parallel()

	fast := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "One moment. "},
		{Text: "more"},
	}}
	strong := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "done.", FinishReason: "stop"}}}

	e := cascade.New(fast, strong, "persona")

	turn, err := e.Respond(context.Background(), types.Message{Role: "user", Content: "hi"}, nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	for range turn.Sentences {
	}

	done := make(chan struct{})
	go func() {
		_ = e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
