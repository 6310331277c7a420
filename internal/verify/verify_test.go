package verify_test

import (
	"context"
	"testing"

	"github.com/brightlinevoice/callcore/internal/verify"
	"github.com/brightlinevoice/callcore/pkg/types"
)

// fakeEmbedder assigns deterministic vectors to known strings so cosine
// distance in the test behaves predictably without a live model.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) ModelID() string { return "fake" }

func TestVerifyByPhone(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"Sam Apollo Straus": {1, 0, 0},
	}}
	store := verify.NewMemStore()
	v := verify.New(embedder, store, nil)

	ref := types.ProjectRef{Name: "Straus", CallerPhone: "+15135550100", CallerName: "Sam Apollo"}

	ok, err := v.VerifyByPhone(context.Background(), "aurora", "+1 (513) 555-0100", ref)
	if err != nil {
		t.Fatalf("VerifyByPhone: %v", err)
	}
	if !ok {
		t.Fatal("expected phone match to verify")
	}

	ok, err = v.VerifyByPhone(context.Background(), "aurora", "+15135559999", ref)
	if err != nil {
		t.Fatalf("VerifyByPhone: %v", err)
	}
	if ok {
		t.Fatal("expected mismatched phone to fail verification")
	}
}

func TestVerifyByNameProject(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"Sam Apollo Straus": {1, 0, 0},
		"Sam Nova":          {1, 0, 0},
	}}
	store := verify.NewMemStore()
	v := verify.New(embedder, store, nil)

	ref := types.ProjectRef{Name: "Straus", CallerPhone: "+15135550100", CallerName: "Sam Apollo"}
	if _, err := v.VerifyByPhone(context.Background(), "aurora", "+15135550100", ref); err != nil {
		t.Fatalf("seed: %v", err)
	}

	matched, score, err := v.VerifyByNameProject(context.Background(), "aurora", "Sam", "Nova")
	if err != nil {
		t.Fatalf("VerifyByNameProject: %v", err)
	}
	if !matched {
		t.Fatalf("expected fuzzy match, got score %f", score)
	}

	matched, _, err = v.VerifyByNameProject(context.Background(), "other-tenant", "Sam", "Nova")
	if err != nil {
		t.Fatalf("VerifyByNameProject: %v", err)
	}
	if matched {
		t.Fatal("expected no match for a tenant with no seeded records")
	}
}
