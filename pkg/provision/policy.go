// Package provision mutates project IAM policies with optimistic
// concurrency: read at version 3, modify, write back conditioned on the
// etag, and retry on conflict within a bounded budget.
package provision

import (
	"context"
	"sort"

	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

// PolicyVersion is the IAM policy schema version that supports conditions.
const PolicyVersion = 3

// Policy is a project IAM policy.
type Policy struct {
	Version  int        `json:"version"`
	Etag     string     `json:"etag"`
	Bindings []*Binding `json:"bindings"`
}

// Binding grants a role to a set of members, optionally gated by a
// condition.
type Binding struct {
	Role      string          `json:"role"`
	Members   []string        `json:"members"`
	Condition *condition.Expr `json:"condition,omitempty"`
}

// Equal compares bindings by role, member set (order-insensitive), and
// condition title/description/expression.
func (b *Binding) Equal(other *Binding) bool {
	if b.Role != other.Role {
		return false
	}
	if !sameMembers(b.Members, other.Members) {
		return false
	}
	switch {
	case b.Condition == nil && other.Condition == nil:
		return true
	case b.Condition == nil || other.Condition == nil:
		return false
	default:
		return b.Condition.Title == other.Condition.Title &&
			b.Condition.Description == other.Condition.Description &&
			b.Condition.Expression == other.Condition.Expression
	}
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// PolicyClient reads and writes project IAM policies. SetProjectPolicy must
// fail with a conflict the engine can classify when the policy was modified
// since the corresponding read (etag mismatch).
type PolicyClient interface {
	// GetProjectPolicy reads the current policy at PolicyVersion.
	// requestReason is propagated as the audit attribution header.
	GetProjectPolicy(ctx context.Context, project resources.ProjectID, requestReason string) (*Policy, error)
	// SetProjectPolicy writes the policy back, conditioned on its etag.
	SetProjectPolicy(ctx context.Context, project resources.ProjectID, policy *Policy, requestReason string) error
	// IsConflict classifies an error from SetProjectPolicy as an
	// optimistic-concurrency conflict worth retrying.
	IsConflict(err error) bool
}
