package artifact

import (
	"context"
	"sync"

	"github.com/brightlinevoice/callcore/pkg/types"
)

// MockSink records every artifact handed to it. Safe for concurrent use.
type MockSink struct {
	mu        sync.Mutex
	Artifacts []types.CallArtifact
	Err       error
}

// EmitArtifact implements Sink.
func (m *MockSink) EmitArtifact(ctx context.Context, a types.CallArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Artifacts = append(m.Artifacts, a)
	return m.Err
}

// EmitCount returns how many artifacts have been emitted so far.
func (m *MockSink) EmitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Artifacts)
}

// Last returns the most recently emitted artifact, or the zero value if
// none has been emitted yet.
func (m *MockSink) Last() types.CallArtifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Artifacts) == 0 {
		return types.CallArtifact{}
	}
	return m.Artifacts[len(m.Artifacts)-1]
}

var _ Sink = (*MockSink)(nil)
