package finalizer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/brightlinevoice/callcore/pkg/llm"
	"github.com/brightlinevoice/callcore/pkg/llm/mock"
	"github.com/brightlinevoice/callcore/pkg/types"
)

func testCall() types.Call {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return types.Call{
		ID:            "call-1",
		TenantID:      "acme",
		CallerID:      "+15551234567",
		DialedNumber:  "+15557654321",
		Direction:     types.DirectionInbound,
		StartedAt:     start,
		EndedAt:       start.Add(90 * time.Second),
		TerminalCause: types.CauseHangup,
	}
}

func testTranscript() []types.TranscriptEntry {
	return []types.TranscriptEntry{
		{Speaker: types.SpeakerCaller, Text: "Hi, I need an update on my project.", TStartMs: 0, TEndMs: 2000},
		{Speaker: types.SpeakerAgent, Text: "Sure, let me check that for you.", TStartMs: 2100, TEndMs: 4000},
	}
}

func TestFinalize_Success(t *testing.T) {
	m := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"callerName":"Jane","project":"Riverside","summary":"Caller asked for a project status update.","actionItems":["Follow up with PM"],"urgency":"medium"}`,
		},
	}
	f := New(m)

	artifact := f.Finalize(context.Background(), Request{
		Call:       testCall(),
		Transcript: testTranscript(),
	})

	if artifact.CallID != "call-1" || artifact.TenantID != "acme" {
		t.Fatalf("unexpected identity fields: %+v", artifact)
	}
	if artifact.Summary == nil || *artifact.Summary != "Caller asked for a project status update." {
		t.Fatalf("unexpected summary: %+v", artifact.Summary)
	}
	if len(artifact.ActionItems) != 1 || artifact.ActionItems[0] != "Follow up with PM" {
		t.Fatalf("unexpected action items: %v", artifact.ActionItems)
	}
	if artifact.Urgency != types.UrgencyMedium {
		t.Fatalf("expected medium urgency, got %v", artifact.Urgency)
	}
	if len(artifact.FinalizerErrors) != 0 {
		t.Fatalf("expected no finalizer errors, got %v", artifact.FinalizerErrors)
	}
	if artifact.DurationS != 90 {
		t.Fatalf("expected duration 90s, got %v", artifact.DurationS)
	}
}

func TestFinalize_ScopeCreepChecked(t *testing.T) {
	// mock.Provider always returns the same CompleteResponse, which can't
	// distinguish the summary step's response from the scope-creep step's;
	// use sequencedProvider to drive each step's response independently.
	wrapped := &sequencedProvider{
		responses: []*llm.CompletionResponse{
			{Content: `{"summary":"Caller asked about scope.","actionItems":[],"urgency":"low"}`},
			{Content: `{"flagged":true,"rationale":"Caller requested work outside the agreed scope."}`},
		},
	}
	f := New(wrapped)

	artifact := f.Finalize(context.Background(), Request{
		Call:            testCall(),
		Transcript:      testTranscript(),
		MatchedScope:    "Landscaping: front yard only.",
		HasMatchedScope: true,
	})

	if artifact.ScopeCreep == nil {
		t.Fatalf("expected scope creep result, got nil")
	}
	if !artifact.ScopeCreep.Flagged {
		t.Fatalf("expected flagged=true")
	}
	if len(artifact.FinalizerErrors) != 0 {
		t.Fatalf("expected no finalizer errors, got %v", artifact.FinalizerErrors)
	}
}

func TestFinalize_NoScopeCreepCheckWithoutMatch(t *testing.T) {
	wrapped := &sequencedProvider{
		responses: []*llm.CompletionResponse{
			{Content: `{"summary":"Caller asked about scope.","actionItems":[],"urgency":"low"}`},
		},
	}
	f := New(wrapped)

	artifact := f.Finalize(context.Background(), Request{
		Call:       testCall(),
		Transcript: testTranscript(),
	})

	if artifact.ScopeCreep != nil {
		t.Fatalf("expected no scope creep check without a matched project, got %+v", artifact.ScopeCreep)
	}
	if wrapped.calls != 1 {
		t.Fatalf("expected exactly one Complete call, got %d", wrapped.calls)
	}
}

func TestFinalize_SummaryFailureStillProducesArtifact(t *testing.T) {
	m := &mock.Provider{CompleteErr: errBoom}
	f := New(m)

	artifact := f.Finalize(context.Background(), Request{
		Call:       testCall(),
		Transcript: testTranscript(),
	})

	if artifact.Summary != nil {
		t.Fatalf("expected nil summary on failure, got %v", *artifact.Summary)
	}
	if len(artifact.FinalizerErrors) != 1 || !strings.Contains(artifact.FinalizerErrors[0], "summary") {
		t.Fatalf("expected one summary finalizer error, got %v", artifact.FinalizerErrors)
	}
	if artifact.CallID != "call-1" {
		t.Fatalf("artifact identity must still be populated on failure")
	}
}

func TestFinalize_MalformedJSONRecordsError(t *testing.T) {
	m := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "not json at all"}}
	f := New(m)

	artifact := f.Finalize(context.Background(), Request{Call: testCall(), Transcript: testTranscript()})

	if len(artifact.FinalizerErrors) != 1 {
		t.Fatalf("expected one finalizer error for malformed JSON, got %v", artifact.FinalizerErrors)
	}
}

func TestFinalize_NoProviderConfigured(t *testing.T) {
	f := New(nil)
	artifact := f.Finalize(context.Background(), Request{Call: testCall(), Transcript: testTranscript()})

	if len(artifact.FinalizerErrors) != 1 {
		t.Fatalf("expected one finalizer error when no provider is configured, got %v", artifact.FinalizerErrors)
	}
	if artifact.Summary != nil {
		t.Fatalf("expected nil summary")
	}
}

func TestFinalize_EmptyTranscript(t *testing.T) {
	m := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"summary":"Caller never spoke.","actionItems":[],"urgency":"low"}`,
	}}
	f := New(m)

	artifact := f.Finalize(context.Background(), Request{Call: testCall(), Transcript: nil})

	if len(m.CompleteCalls) != 1 {
		t.Fatalf("expected one Complete call")
	}
	if !strings.Contains(m.CompleteCalls[0].Req.Messages[0].Content, "never spoke") {
		t.Fatalf("expected empty-transcript placeholder text in prompt, got %q", m.CompleteCalls[0].Req.Messages[0].Content)
	}
	if artifact.Summary == nil {
		t.Fatalf("expected summary to still be populated")
	}
}

// sequencedProvider returns responses in order across successive Complete
// calls, needed to distinguish the summary step's response from the
// scope-creep step's response within a single Finalize call.
type sequencedProvider struct {
	responses []*llm.CompletionResponse
	calls     int
}

func (s *sequencedProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}

func (s *sequencedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		return &llm.CompletionResponse{}, nil
	}
	return s.responses[i], nil
}

func (s *sequencedProvider) CountTokens(messages []types.Message) (int, error) { return 0, nil }

func (s *sequencedProvider) Capabilities() llm.ModelCapabilities { return llm.ModelCapabilities{} }

var _ llm.Provider = (*sequencedProvider)(nil)

var errBoom = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }
