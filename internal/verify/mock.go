package verify

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemStore is an in-memory [Store] for unit tests; it computes cosine
// distance in Go rather than delegating to Postgres.
type MemStore struct {
	mu      sync.Mutex
	records map[string][]memEntry // tenantID -> records
}

type memEntry struct {
	rec       Record
	embedding []float32
}

// NewMemStore returns a ready-to-use MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string][]memEntry)}
}

// Upsert implements Store.
func (s *MemStore) Upsert(ctx context.Context, rec Record, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.records[rec.TenantID]
	for i, e := range entries {
		if e.rec.CallerPhone == rec.CallerPhone {
			entries[i] = memEntry{rec: rec, embedding: embedding}
			return nil
		}
	}
	s.records[rec.TenantID] = append(entries, memEntry{rec: rec, embedding: embedding})
	return nil
}

// NearestCandidates implements Store.
func (s *MemStore) NearestCandidates(ctx context.Context, tenantID string, embedding []float32, topK int) ([]Record, error) {
	s.mu.Lock()
	entries := append([]memEntry(nil), s.records[tenantID]...)
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return cosineDistance(embedding, entries[i].embedding) < cosineDistance(embedding, entries[j].embedding)
	})
	if topK > 0 && topK < len(entries) {
		entries = entries[:topK]
	}

	recs := make([]Record, len(entries))
	for i, e := range entries {
		recs[i] = e.rec
	}
	return recs, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 2 // maximally dissimilar
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var _ Store = (*MemStore)(nil)
