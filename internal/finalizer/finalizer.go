// Package finalizer implements the Post-Call Finalizer: after a call
// reaches Ended, assemble the transcript, ask the LLM for a structured
// summary, optionally flag scope creep against a matched project's stored
// scope, and produce the CallArtifact handed to the downstream sink.
//
// A failure in the LLM steps never blocks call teardown: it is recorded in
// the artifact's FinalizerErrors and the artifact is still produced with
// whatever fields could be computed ("Finalizer failure: emit the
// artifact with partial fields ... do not block the call teardown").
package finalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brightlinevoice/callcore/pkg/llm"
	"github.com/brightlinevoice/callcore/pkg/types"
)

// summaryPrompt is the deterministic instruction used for the summary step.
// Deterministic here means "always the same instruction text", not
// "temperature zero" — the Finalizer does not control sampling parameters,
// that's the llm.Provider's concern.
const summaryPrompt = `You are summarizing a finished phone call between a caller and an AI voice agent for an internal record. Given the transcript, respond with a single JSON object and nothing else, matching exactly this shape:

{"callerName": string|null, "project": string|null, "summary": string, "actionItems": [string], "urgency": "low"|"medium"|"high"|"critical"}

Keep the summary to 2-3 sentences. actionItems lists concrete follow-ups a human should take; an empty array means none. urgency reflects how quickly a human should review this call.`

// scopeCreepPromptTemplate is used for the scope-creep step, only when the
// matched project has a stored scope.
const scopeCreepPromptTemplate = `The caller's matched project has this recorded scope of work:

%s

Given the call transcript below, respond with a single JSON object and nothing else:

{"flagged": bool, "rationale": string}

flagged is true only if the caller's request clearly diverges from the recorded scope. rationale is one short sentence.`

// Finalizer produces a types.CallArtifact from a finished call.
type Finalizer struct {
	llmProvider llm.Provider
}

// New builds a Finalizer backed by llmProvider, used for both the summary
// and scope-creep classification steps.
func New(llmProvider llm.Provider) *Finalizer {
	return &Finalizer{llmProvider: llmProvider}
}

// Request carries everything the Finalizer needs to assemble one artifact.
type Request struct {
	Call            types.Call
	Transcript      []types.TranscriptEntry // already ordered by start offset
	Lead            *types.LeadRecord
	MatchedScope    string // from project.Provider.ScopeOf; empty skips the scope-creep check
	HasMatchedScope bool
}

// summaryJSON mirrors the shape summaryPrompt asks the model for.
type summaryJSON struct {
	CallerName  *string  `json:"callerName"`
	Project     *string  `json:"project"`
	Summary     string   `json:"summary"`
	ActionItems []string `json:"actionItems"`
	Urgency     string   `json:"urgency"`
}

type scopeCreepJSON struct {
	Flagged   bool   `json:"flagged"`
	Rationale string `json:"rationale"`
}

// Finalize assembles and classifies the artifact. It never returns an error: any
// failure in steps 2-3 is recorded in the returned artifact's
// FinalizerErrors and the remaining fields are left at their zero value, so
// step 4 (handing the artifact to the sink) is always reachable.
func (f *Finalizer) Finalize(ctx context.Context, req Request) types.CallArtifact {
	artifact := types.CallArtifact{
		CallID:        req.Call.ID,
		TenantID:      req.Call.TenantID,
		From:          req.Call.CallerID,
		To:            req.Call.DialedNumber,
		StartedAt:     req.Call.StartedAt,
		EndedAt:       req.Call.EndedAt,
		DurationS:     req.Call.Duration().Seconds(),
		TerminalCause: req.Call.TerminalCause,
		Transcript:    req.Transcript,
		Urgency:       types.UrgencyLow,
		Lead:          req.Lead,
	}

	if f.llmProvider == nil {
		artifact.FinalizerErrors = append(artifact.FinalizerErrors, "finalizer: no LLM provider configured, summary skipped")
		return artifact
	}

	summary, err := f.summarize(ctx, req.Transcript)
	if err != nil {
		slog.Warn("finalizer: summary step failed", "call_id", req.Call.ID, "err", err)
		artifact.FinalizerErrors = append(artifact.FinalizerErrors, fmt.Sprintf("summary: %v", err))
	} else {
		artifact.Summary = &summary.Summary
		artifact.ActionItems = summary.ActionItems
		artifact.Urgency = parseUrgency(summary.Urgency)
	}

	if req.HasMatchedScope && req.MatchedScope != "" {
		creep, err := f.scopeCreep(ctx, req.Transcript, req.MatchedScope)
		if err != nil {
			slog.Warn("finalizer: scope-creep step failed", "call_id", req.Call.ID, "err", err)
			artifact.FinalizerErrors = append(artifact.FinalizerErrors, fmt.Sprintf("scope_creep: %v", err))
		} else {
			artifact.ScopeCreep = creep
		}
	}

	return artifact
}

func (f *Finalizer) summarize(ctx context.Context, transcript []types.TranscriptEntry) (*summaryJSON, error) {
	resp, err := f.llmProvider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summaryPrompt,
		Messages:     []types.Message{{Role: "user", Content: renderTranscript(transcript)}},
		Temperature:  0,
	})
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}

	var out summaryJSON
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &out, nil
}

func (f *Finalizer) scopeCreep(ctx context.Context, transcript []types.TranscriptEntry, scope string) (*types.ScopeCreep, error) {
	prompt := fmt.Sprintf(scopeCreepPromptTemplate, scope)
	resp, err := f.llmProvider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: prompt,
		Messages:     []types.Message{{Role: "user", Content: renderTranscript(transcript)}},
		Temperature:  0,
	})
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}

	var out scopeCreepJSON
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &types.ScopeCreep{Flagged: out.Flagged, Rationale: out.Rationale}, nil
}

// renderTranscript formats the ordered transcript as plain text for the
// summarization prompt.
func renderTranscript(transcript []types.TranscriptEntry) string {
	if len(transcript) == 0 {
		return "(the caller never spoke; the call ended during the greeting or idle period)"
	}
	var b strings.Builder
	for _, t := range transcript {
		fmt.Fprintf(&b, "[%s] %s: %s\n", (time.Duration(t.TStartMs) * time.Millisecond).String(), t.Speaker, t.Text)
	}
	return b.String()
}

// extractJSON trims any leading/trailing prose a model adds despite
// instructions, returning the first top-level {...} object found.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func parseUrgency(s string) types.Urgency {
	switch types.Urgency(strings.ToLower(strings.TrimSpace(s))) {
	case types.UrgencyMedium:
		return types.UrgencyMedium
	case types.UrgencyHigh:
		return types.UrgencyHigh
	case types.UrgencyCritical:
		return types.UrgencyCritical
	default:
		return types.UrgencyLow
	}
}
