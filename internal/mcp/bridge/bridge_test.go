package bridge_test

import (
	"context"
	"testing"

	"github.com/brightlinevoice/callcore/internal/mcp/bridge"
	"github.com/brightlinevoice/callcore/internal/mcp/mcphost"
	"github.com/brightlinevoice/callcore/internal/tool"
	"github.com/brightlinevoice/callcore/internal/verify"
	s2smock "github.com/brightlinevoice/callcore/pkg/s2s/mock"
	"github.com/brightlinevoice/callcore/pkg/types"
)

func testExecutor(t *testing.T) *tool.Executor {
	t.Helper()
	tenant := &types.TenantContext{TenantID: "aurora", EscalationPhone: "+15135550900"}
	ex, err := tool.NewExecutor(mcphost.New(), tenant, nil, verify.New(nil, verify.NewMemStore(), nil), 0)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return ex
}

func newSession() *s2smock.Session {
	return &s2smock.Session{
		AudioCh:       make(chan []byte, 8),
		TranscriptsCh: make(chan types.TranscriptEntry, 4),
	}
}

func TestNewBridgeDeclaresToolsAndRegistersHandler(t *testing.T) {
	ex := testExecutor(t)
	sess := newSession()

	b, err := bridge.NewBridge(ex, sess, types.BudgetStandard)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	defer b.Close()

	if len(sess.SetToolsCalls) != 1 {
		t.Fatalf("expected one SetTools call, got %d", len(sess.SetToolsCalls))
	}
	if len(sess.SetToolsCalls[0].Tools) == 0 {
		t.Fatalf("expected non-empty tool set")
	}
	if sess.OnToolCallSetCount != 1 {
		t.Fatalf("expected OnToolCall to be registered once, got %d", sess.OnToolCallSetCount)
	}
}

func TestHandleToolCallRoutesThroughExecutor(t *testing.T) {
	ex := testExecutor(t)
	sess := newSession()

	_, err := bridge.NewBridge(ex, sess, types.BudgetStandard)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	handler := sess.Handler()
	if handler == nil {
		t.Fatal("expected a ToolCallHandler to be registered")
	}

	result, err := handler(tool.ToolEndCall, `{"reason":"caller_done"}`)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result == "" {
		t.Fatal("expected a non-empty JSON result")
	}
}

func TestUpdateTierRespectsCancellation(t *testing.T) {
	ex := testExecutor(t)
	sess := newSession()

	b, err := bridge.NewBridge(ex, sess, types.BudgetStandard)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.UpdateTier(ctx, types.BudgetDeep); err == nil {
		t.Fatal("expected UpdateTier to reject a cancelled context")
	}
	if len(sess.SetToolsCalls) != 1 {
		t.Fatalf("expected no additional SetTools call after cancellation, got %d total", len(sess.SetToolsCalls))
	}
}

func TestCloseDeregistersHandler(t *testing.T) {
	ex := testExecutor(t)
	sess := newSession()

	b, err := bridge.NewBridge(ex, sess, types.BudgetStandard)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	b.Close()

	if sess.Handler() != nil {
		t.Fatal("expected handler to be cleared after Close")
	}
}

func TestNewBridgeRejectsNilArgs(t *testing.T) {
	ex := testExecutor(t)
	sess := newSession()

	if _, err := bridge.NewBridge(nil, sess, types.BudgetStandard); err == nil {
		t.Error("expected error for nil executor")
	}
	if _, err := bridge.NewBridge(ex, nil, types.BudgetStandard); err == nil {
		t.Error("expected error for nil session")
	}
}
