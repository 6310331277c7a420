// Package project defines the Project Provider contract: the
// uniform capability the Tool Executor uses to look up a tenant's PM-tool
// data without knowing which PM system (Linear, Jira, Asana, ...) backs it.
//
// Concrete PM-tool adapters (OAuth, token refresh, per-provider REST
// translation) are explicitly out of scope for this module; only the
// interface and a test double live here.
package project

import (
	"context"
	"errors"

	"github.com/brightlinevoice/callcore/pkg/types"
)

// ErrNotFound is returned by FindProject when hint matches no project for
// the tenant. It is not itself an error condition the Tool Executor
// escalates — lookup_project_status turns it into {found: false}.
var ErrNotFound = errors.New("project: no project matches hint")

// Provider is the tenant's PM-tool integration handle, consumed by
// lookup_project_status. Every method runs under the ctx deadline set by the
// Tool Executor's tool timeout (4 s by default); implementations should
// respect ctx's deadline rather than enforcing their own, so that timeout
// remains the single source of truth.
type Provider interface {
	// FindProject resolves hint (a caller-spoken project name or fragment,
	// possibly phonetically corrected) and callerID (E.164 ANI) to a
	// project. Returns ErrNotFound if nothing matches.
	FindProject(ctx context.Context, hint, callerID string) (*types.ProjectRef, error)

	// RecentActivity returns up to limit recent activity entries for ref,
	// most recent first.
	RecentActivity(ctx context.Context, ref types.ProjectRef, limit int) ([]types.Activity, error)

	// ScopeOf returns the project's stored scope description, or "" if the
	// tenant has not recorded one (in which case the Post-Call Finalizer
	// skips the scope-creep check entirely).
	ScopeOf(ctx context.Context, ref types.ProjectRef) (string, error)
}
