// Package artifact defines the downstream CallArtifact sink contract
// and an HTTP-backed implementation: the Post-Call Finalizer's EmitArtifact
// call, delivered at-least-once, keyed by call-id for the sink's own
// idempotency on call-id.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/brightlinevoice/callcore/pkg/types"
)

// Sink is the downstream collaborator the Post-Call Finalizer hands a
// finished CallArtifact to. Implementations must tolerate being called more
// than once for the same CallID (at-least-once delivery); idempotency is the
// sink's responsibility, not the finalizer's.
type Sink interface {
	EmitArtifact(ctx context.Context, artifact types.CallArtifact) error
}

// wireArtifact mirrors the sink event's JSON shape exactly; types.CallArtifact uses Go
// idioms (time.Time, *string) that need explicit rendering to match the wire
// contract's RFC3339 strings and nullable fields.
type wireArtifact struct {
	CallID          string               `json:"call_id"`
	TenantID        string               `json:"tenant_id"`
	From            string               `json:"from"`
	To              string               `json:"to"`
	StartedAt       string               `json:"started_at"`
	EndedAt         string               `json:"ended_at"`
	DurationS       float64              `json:"duration_s"`
	TerminalCause   types.TerminalCause  `json:"terminal_cause"`
	Transcript      []wireTranscriptLine `json:"transcript"`
	Summary         *string              `json:"summary"`
	ActionItems     []string             `json:"action_items"`
	Urgency         types.Urgency        `json:"urgency"`
	ScopeCreep      *wireScopeCreep      `json:"scope_creep"`
	Lead            *wireLead            `json:"lead"`
	FinalizerErrors []string             `json:"finalizer_errors"`
}

type wireTranscriptLine struct {
	Speaker  types.Speaker `json:"speaker"`
	Text     string        `json:"text"`
	TStartMs int64         `json:"t_start_ms"`
	TEndMs   int64         `json:"t_end_ms"`
}

type wireScopeCreep struct {
	Flagged   bool   `json:"flagged"`
	Rationale string `json:"rationale"`
}

type wireLead struct {
	Answers   map[string]string `json:"answers"`
	Completed bool              `json:"completed"`
}

func toWire(a types.CallArtifact) wireArtifact {
	w := wireArtifact{
		CallID:          a.CallID,
		TenantID:        a.TenantID,
		From:            a.From,
		To:              a.To,
		StartedAt:       a.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:         a.EndedAt.UTC().Format(time.RFC3339),
		DurationS:       a.DurationS,
		TerminalCause:   a.TerminalCause,
		Summary:         a.Summary,
		ActionItems:     a.ActionItems,
		Urgency:         a.Urgency,
		FinalizerErrors: a.FinalizerErrors,
	}
	if w.ActionItems == nil {
		w.ActionItems = []string{}
	}
	if w.FinalizerErrors == nil {
		w.FinalizerErrors = []string{}
	}
	for _, t := range a.Transcript {
		w.Transcript = append(w.Transcript, wireTranscriptLine{
			Speaker: t.Speaker, Text: t.Text, TStartMs: t.TStartMs, TEndMs: t.TEndMs,
		})
	}
	if a.ScopeCreep != nil {
		w.ScopeCreep = &wireScopeCreep{Flagged: a.ScopeCreep.Flagged, Rationale: a.ScopeCreep.Rationale}
	}
	if a.Lead != nil {
		w.Lead = &wireLead{Answers: a.Lead.Answers, Completed: a.Lead.Completed}
	}
	return w
}

// HTTPSink delivers artifacts as a JSON POST to a configured URL. Delivery is
// best-effort at-least-once: an immediate first attempt plus one jittered
// retry at ~200ms on failure. Each failed attempt is logged; when both fail,
// EmitArtifact returns an error wrapping the last failure.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink builds an HTTPSink posting to url (ARTIFACT_SINK_URL).
func NewHTTPSink(url string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSink{url: url, client: client}
}

// EmitArtifact implements Sink.
func (s *HTTPSink) EmitArtifact(ctx context.Context, a types.CallArtifact) error {
	body, err := json.Marshal(toWire(a))
	if err != nil {
		return fmt.Errorf("artifact: marshal: %w", err)
	}

	var lastErr error
	delays := []time.Duration{0, 200*time.Millisecond + jitter()}
	for attempt, delay := range delays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := s.post(ctx, body); err != nil {
			lastErr = err
			slog.Warn("artifact: sink post failed", "call_id", a.CallID, "attempt", attempt+1, "err", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("artifact: all delivery attempts failed for call %s: %w", a.CallID, lastErr)
}

func (s *HTTPSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}

func jitter() time.Duration {
	return time.Duration(rand.IntN(50)) * time.Millisecond
}

var _ Sink = (*HTTPSink)(nil)
