package tool_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/brightlinevoice/callcore/internal/mcp/mcphost"
	"github.com/brightlinevoice/callcore/internal/project/mock"
	"github.com/brightlinevoice/callcore/internal/tool"
	"github.com/brightlinevoice/callcore/internal/verify"
	"github.com/brightlinevoice/callcore/pkg/types"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }
func (fakeEmbedder) ModelID() string { return "fake" }

// failingEmbedder simulates an embeddings outage: every Embed call errors, so
// the post-match record seeding inside VerifyByPhone fails.
type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embeddings unavailable")
}
func (failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embeddings unavailable")
}
func (failingEmbedder) Dimensions() int { return 3 }
func (failingEmbedder) ModelID() string { return "failing" }

func testTenant() *types.TenantContext {
	return &types.TenantContext{
		TenantID:        "aurora",
		EscalationPhone: "+15135550900",
		LeadQuestions: []types.LeadQuestion{
			{ID: "q1", Text: "What's your name?", Kind: types.LeadQuestionText},
			{ID: "q2", Text: "What's your email?", Kind: types.LeadQuestionEmail},
		},
	}
}

func TestLookupProjectStatusVerifiedByPhone(t *testing.T) {
	host := mcphost.New()
	provider := &mock.Provider{Ref: &types.ProjectRef{
		Name: "Straus", Status: "In review", LastUpdateAt: "2024-01-15",
		CallerPhone: "+15135550100", CallerName: "Sam Apollo",
	}}
	store := verify.NewMemStore()
	v := verify.New(fakeEmbedder{}, store, nil)

	ex, err := tool.NewExecutor(host, testTenant(), provider, v, 0)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	args, _ := json.Marshal(map[string]string{"project_hint": "Straus", "caller_id": "+15135550100"})
	result, err := ex.Execute(context.Background(), tool.ToolLookupProjectStatus, string(args))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var decoded struct {
		Found  bool   `json:"found"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(result), &decoded); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !decoded.Found || decoded.Status != "In review" {
		t.Fatalf("expected verified found result, got %s", result)
	}
}

func TestLookupProjectStatusPhoneMatchSurvivesSeedFailure(t *testing.T) {
	host := mcphost.New()
	provider := &mock.Provider{Ref: &types.ProjectRef{
		Name: "Straus", Status: "In review",
		CallerPhone: "+15135550100", CallerName: "Sam Apollo",
	}}
	store := verify.NewMemStore()
	v := verify.New(failingEmbedder{}, store, nil)

	ex, err := tool.NewExecutor(host, testTenant(), provider, v, 0)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	args, _ := json.Marshal(map[string]string{"project_hint": "Straus", "caller_id": "+15135550100"})
	result, err := ex.Execute(context.Background(), tool.ToolLookupProjectStatus, string(args))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var decoded struct {
		Found bool `json:"found"`
	}
	if err := json.Unmarshal([]byte(result), &decoded); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !decoded.Found {
		t.Fatalf("phone match must survive a failed store seed, got %s", result)
	}
}

func TestLookupProjectStatusUnverified(t *testing.T) {
	host := mcphost.New()
	provider := &mock.Provider{Ref: &types.ProjectRef{
		Name: "Nova", Status: "Active", CallerPhone: "+15135550100", CallerName: "Sam Apollo",
	}}
	store := verify.NewMemStore()
	v := verify.New(fakeEmbedder{}, store, nil)

	ex, err := tool.NewExecutor(host, testTenant(), provider, v, 0)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	args, _ := json.Marshal(map[string]string{"project_hint": "Nova", "caller_id": "+19999999999"})
	result, err := ex.Execute(context.Background(), tool.ToolLookupProjectStatus, string(args))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var decoded struct {
		Found  bool   `json:"found"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(result), &decoded); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if decoded.Found || decoded.Reason != "unverified" {
		t.Fatalf("expected unverified result, got %s", result)
	}
}

func TestTransferToHuman(t *testing.T) {
	ex, err := tool.NewExecutor(mcphost.New(), testTenant(), nil, nil, 0)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	args, _ := json.Marshal(map[string]string{"reason": "caller requested"})
	result, err := ex.Execute(context.Background(), tool.ToolTransferToHuman, string(args))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var decoded struct {
		Transferred bool   `json:"transferred"`
		ToNumber    string `json:"to_number"`
	}
	if err := json.Unmarshal([]byte(result), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Transferred || decoded.ToNumber != "+15135550900" {
		t.Fatalf("unexpected transfer result: %s", result)
	}
}

func TestCaptureLeadAnswerAdvancesPointer(t *testing.T) {
	ex, err := tool.NewExecutor(mcphost.New(), testTenant(), nil, nil, 0)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	args, _ := json.Marshal(map[string]string{"question_id": "q1", "answer": "Sam"})
	result, err := ex.Execute(context.Background(), tool.ToolCaptureLeadAnswer, string(args))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var decoded struct {
		Accepted     bool `json:"accepted"`
		NextQuestion *struct {
			ID string `json:"id"`
		} `json:"next_question"`
	}
	if err := json.Unmarshal([]byte(result), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Accepted || decoded.NextQuestion == nil || decoded.NextQuestion.ID != "q2" {
		t.Fatalf("expected advance to q2, got %s", result)
	}

	// Invalid email should be rejected.
	args, _ = json.Marshal(map[string]string{"question_id": "q2", "answer": "not-an-email"})
	result, err = ex.Execute(context.Background(), tool.ToolCaptureLeadAnswer, string(args))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	decoded.Accepted = false
	if err := json.Unmarshal([]byte(result), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Accepted {
		t.Fatalf("expected invalid email to be rejected, got %s", result)
	}

	lead := ex.LeadRecord()
	if lead == nil || lead.Answers["q1"] != "Sam" || lead.Completed {
		t.Fatalf("unexpected lead record: %+v", lead)
	}
}

func TestEndCall(t *testing.T) {
	ex, err := tool.NewExecutor(mcphost.New(), testTenant(), nil, nil, 0)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	result, err := ex.Execute(context.Background(), tool.ToolEndCall, `{"reason":"caller done"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != `{"ok":true}` {
		t.Fatalf("unexpected end_call result: %s", result)
	}
}
