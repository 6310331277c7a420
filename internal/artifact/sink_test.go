package artifact

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brightlinevoice/callcore/pkg/types"
)

func sampleArtifact() types.CallArtifact {
	summary := "Caller asked for an update on Project Straus."
	started := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	return types.CallArtifact{
		CallID:        "CA001",
		TenantID:      "aurora",
		From:          "+15135550111",
		To:            "+15135550100",
		StartedAt:     started,
		EndedAt:       started.Add(95 * time.Second),
		DurationS:     95,
		TerminalCause: types.CauseHangup,
		Transcript: []types.TranscriptEntry{
			{Speaker: types.SpeakerAgent, Text: "Hi, this is Aurora — how can I help?", TStartMs: 0, TEndMs: 2400},
			{Speaker: types.SpeakerCaller, Text: "Any update on Project Straus?", TStartMs: 3100, TEndMs: 5000},
		},
		Summary:     &summary,
		ActionItems: []string{"Send the review notes"},
		Urgency:     types.UrgencyLow,
		Lead: &types.LeadRecord{
			Answers:   map[string]string{"phone": "5135550123"},
			Completed: false,
		},
	}
}

func TestHTTPSinkWireFormat(t *testing.T) {
	t.Parallel()

	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	sink := NewHTTPSink(srv.URL, nil)
	if err := sink.EmitArtifact(context.Background(), sampleArtifact()); err != nil {
		t.Fatalf("EmitArtifact: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal posted body: %v", err)
	}

	if got["call_id"] != "CA001" || got["tenant_id"] != "aurora" {
		t.Fatalf("identity fields: %v", got)
	}
	if got["started_at"] != "2024-01-15T09:30:00Z" {
		t.Fatalf("started_at = %v, want RFC3339", got["started_at"])
	}
	if got["terminal_cause"] != "hangup" || got["urgency"] != "low" {
		t.Fatalf("cause/urgency: %v %v", got["terminal_cause"], got["urgency"])
	}
	if got["scope_creep"] != nil {
		t.Fatalf("scope_creep should serialise as null, got %v", got["scope_creep"])
	}

	transcript, ok := got["transcript"].([]any)
	if !ok || len(transcript) != 2 {
		t.Fatalf("transcript: %v", got["transcript"])
	}
	line := transcript[1].(map[string]any)
	if line["speaker"] != "caller" || line["t_start_ms"] != float64(3100) {
		t.Fatalf("transcript line: %v", line)
	}

	lead, ok := got["lead"].(map[string]any)
	if !ok {
		t.Fatalf("lead: %v", got["lead"])
	}
	answers := lead["answers"].(map[string]any)
	if answers["phone"] != "5135550123" {
		t.Fatalf("lead answers: %v", answers)
	}
}

func TestHTTPSinkEmptySlicesSerializeAsArrays(t *testing.T) {
	t.Parallel()

	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	sink := NewHTTPSink(srv.URL, nil)
	if err := sink.EmitArtifact(context.Background(), types.CallArtifact{CallID: "CA002"}); err != nil {
		t.Fatalf("EmitArtifact: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal posted body: %v", err)
	}
	if _, ok := got["action_items"].([]any); !ok {
		t.Fatalf("action_items should be [], got %v", got["action_items"])
	}
	if _, ok := got["finalizer_errors"].([]any); !ok {
		t.Fatalf("finalizer_errors should be [], got %v", got["finalizer_errors"])
	}
	if got["summary"] != nil {
		t.Fatalf("summary should be null, got %v", got["summary"])
	}
}

func TestHTTPSinkRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	sink := NewHTTPSink(srv.URL, nil)
	if err := sink.EmitArtifact(context.Background(), sampleArtifact()); err != nil {
		t.Fatalf("EmitArtifact should succeed on retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 delivery attempts, got %d", calls.Load())
	}
}

func TestHTTPSinkGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	sink := NewHTTPSink(srv.URL, nil)
	if err := sink.EmitArtifact(context.Background(), sampleArtifact()); err == nil {
		t.Fatalf("expected delivery failure")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 delivery attempts, got %d", calls.Load())
	}
}
