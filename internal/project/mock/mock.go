// Package mock provides a test double for the project.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/brightlinevoice/callcore/internal/project"
	"github.com/brightlinevoice/callcore/pkg/types"
)

// FindCall records a single invocation of FindProject.
type FindCall struct {
	Hint     string
	CallerID string
}

// Provider is a mock implementation of project.Provider.
type Provider struct {
	mu sync.Mutex

	// Ref is returned by FindProject when FindErr is nil. A nil Ref with a
	// nil FindErr causes FindProject to return project.ErrNotFound.
	Ref     *types.ProjectRef
	FindErr error

	Activity    []types.Activity
	ActivityErr error

	Scope    string
	ScopeErr error

	FindCalls []FindCall
}

// FindProject implements project.Provider.
func (p *Provider) FindProject(ctx context.Context, hint, callerID string) (*types.ProjectRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FindCalls = append(p.FindCalls, FindCall{Hint: hint, CallerID: callerID})
	if p.FindErr != nil {
		return nil, p.FindErr
	}
	if p.Ref == nil {
		return nil, project.ErrNotFound
	}
	ref := *p.Ref
	return &ref, nil
}

// RecentActivity implements project.Provider.
func (p *Provider) RecentActivity(ctx context.Context, ref types.ProjectRef, limit int) ([]types.Activity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ActivityErr != nil {
		return nil, p.ActivityErr
	}
	if limit > 0 && limit < len(p.Activity) {
		return p.Activity[:limit], nil
	}
	return p.Activity, nil
}

// ScopeOf implements project.Provider.
func (p *Provider) ScopeOf(ctx context.Context, ref types.ProjectRef) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Scope, p.ScopeErr
}

var _ project.Provider = (*Provider)(nil)
