// Package verify implements the caller-verification check required before
// lookup_project_status may return project data: a phone match, or a
// name+project match scoring at least 0.8 on normalized strings.
//
// Two libraries split the work as a two-stage lookup: pgvector narrows a tenant's full caller roster down to
// a handful of nearest-neighbour candidates by embedding distance, then
// matchr's Double Metaphone + Jaro-Winkler matcher produces the precise,
// interpretable similarity score that is actually compared against the 0.8
// threshold.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/brightlinevoice/callcore/internal/transcript/phonetic"
	"github.com/brightlinevoice/callcore/pkg/provider/embeddings"
	"github.com/brightlinevoice/callcore/pkg/types"
)

// DefaultThreshold is the minimum phonetic-matcher (Jaro-Winkler) score for
// the name+project verification path. Embedding cosine distance only selects
// the candidates; it is not compared against this threshold.
const DefaultThreshold = 0.8

// Record is one known caller↔project association, seeded the first time a
// call is verified by phone match (path a) so that later calls from a
// different number can still be verified by name+project (path b).
type Record struct {
	TenantID    string `db:"tenant_id"`
	CallerPhone string `db:"caller_phone"`
	CallerName  string `db:"caller_name"`
	ProjectName string `db:"project_name"`
}

// candidateString is what gets compared by the phonetic matcher: the
// caller-name and project-name concatenated the same way the query is.
func (r Record) candidateString() string {
	return strings.TrimSpace(r.CallerName + " " + r.ProjectName)
}

// Store persists caller-verification Records and supports nearest-neighbour
// lookup by embedding. Implementations must be safe for concurrent use.
type Store interface {
	// Upsert seeds or refreshes a Record, keyed by (TenantID, CallerPhone).
	// embedding is the vector for rec's candidateString().
	Upsert(ctx context.Context, rec Record, embedding []float32) error

	// NearestCandidates returns up to topK Records for tenantID ordered by
	// ascending cosine distance to embedding.
	NearestCandidates(ctx context.Context, tenantID string, embedding []float32, topK int) ([]Record, error)
}

// Verifier implements the caller-verification decision.
type Verifier struct {
	embedder  embeddings.Provider
	store     Store
	matcher   *phonetic.Matcher
	threshold float64
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(t float64) Option {
	return func(v *Verifier) { v.threshold = t }
}

// New builds a Verifier. embedder and store must be non-nil; matcher may be
// nil to use phonetic.New()'s defaults.
func New(embedder embeddings.Provider, store Store, matcher *phonetic.Matcher, opts ...Option) *Verifier {
	if matcher == nil {
		matcher = phonetic.New()
	}
	v := &Verifier{
		embedder:  embedder,
		store:     store,
		matcher:   matcher,
		threshold: DefaultThreshold,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// normalizePhone strips everything but digits and a leading '+' so "tel:"
// prefixes, spaces, and punctuation differences don't break path (a).
func normalizePhone(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// VerifyByPhone implements verification path (a): the caller-id matches the
// project's stored contact phone. It also seeds the Store with rec so that
// future calls from a different number can still match by name+project.
func (v *Verifier) VerifyByPhone(ctx context.Context, tenantID, callerID string, ref types.ProjectRef) (bool, error) {
	if ref.CallerPhone == "" || normalizePhone(callerID) != normalizePhone(ref.CallerPhone) {
		return false, nil
	}

	rec := Record{
		TenantID:    tenantID,
		CallerPhone: ref.CallerPhone,
		CallerName:  ref.CallerName,
		ProjectName: ref.Name,
	}
	embedding, err := v.embedder.Embed(ctx, rec.candidateString())
	if err != nil {
		// Verification by phone still succeeds; seeding is best-effort.
		return true, fmt.Errorf("verify: seed embedding: %w", err)
	}
	if err := v.store.Upsert(ctx, rec, embedding); err != nil {
		return true, fmt.Errorf("verify: seed store: %w", err)
	}
	return true, nil
}

// VerifyByNameProject implements verification path (b): the caller has
// spoken a name and project identifier that matches a previously-seeded
// Record within the configured threshold (default 0.8) on normalized
// strings. Returns the matched similarity score regardless of outcome so
// callers can log near-misses.
func (v *Verifier) VerifyByNameProject(ctx context.Context, tenantID, callerName, projectHint string) (matched bool, score float64, err error) {
	query := strings.TrimSpace(callerName + " " + projectHint)
	if query == "" {
		return false, 0, nil
	}

	embedding, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return false, 0, fmt.Errorf("verify: embed query: %w", err)
	}

	candidates, err := v.store.NearestCandidates(ctx, tenantID, embedding, 5)
	if err != nil {
		return false, 0, fmt.Errorf("verify: nearest candidates: %w", err)
	}
	if len(candidates) == 0 {
		return false, 0, nil
	}

	strs := make([]string, len(candidates))
	for i, c := range candidates {
		strs[i] = c.candidateString()
	}

	_, confidence, ok := v.matcher.Match(query, strs)
	if !ok || confidence < v.threshold {
		return false, confidence, nil
	}
	return true, confidence, nil
}
