package catalog

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

// Evaluation is the verdict of a condition for a principal: either supplied
// symbolically by the policy analyzer or computed against wall-clock time by
// the effective-policy backend.
type Evaluation int

const (
	// EvalUnspecified means the verdict could not be established.
	EvalUnspecified Evaluation = iota
	// EvalTrue means the condition currently holds.
	EvalTrue
	// EvalConditional means the condition could hold depending on request
	// attributes (the verdict for eligibility markers).
	EvalConditional
	// EvalFalse means the condition does not hold.
	EvalFalse
)

// RoleRepository is the query side over IAM: the effective set of bindings
// for a (user, project) classified into privileges, and reviewer discovery.
// Two interchangeable backends implement it.
type RoleRepository interface {
	// FindProjectsWithPrivileges returns the sorted set of projects on
	// which user holds at least one eligible or activated binding.
	FindProjectsWithPrivileges(ctx context.Context, user resources.UserEmail) ([]resources.ProjectID, error)

	// FindPrivileges classifies the user's bindings on project. Only
	// privileges whose activation kind is in kinds and whose status is in
	// statuses are returned; empty slices mean "all".
	FindPrivileges(ctx context.Context, user resources.UserEmail, project resources.ProjectID,
		kinds []condition.ActivationKind, statuses []Status) (*PrivilegeSet, error)

	// FindReviewerHolders returns the users qualified to review an
	// activation of projectRole requested with activationType.
	FindReviewerHolders(ctx context.Context, projectRole resources.ProjectRole,
		activationType condition.ActivationType) ([]resources.UserEmail, error)
}

// classified accumulates classification results for one (user, project).
type classified struct {
	available []RequesterPrivilege
	active    map[resources.ProjectRole]Activation
	expired   map[resources.ProjectRole]Activation
	warnings  []string
}

func newClassified() *classified {
	return &classified{
		active:  make(map[resources.ProjectRole]Activation),
		expired: make(map[resources.ProjectRole]Activation),
	}
}

// classify applies the shared mapping rules to one binding:
//
//	eligibility marker + CONDITIONAL verdict -> available
//	activated condition + TRUE verdict       -> active
//	activated condition + FALSE verdict      -> expired
//
// Bindings without a recognized condition are ignored; they grant access on
// their own and are not part of the activation model.
func (c *classified) classify(id resources.ProjectRole, cond *condition.Expr, verdict Evaluation) {
	if cond == nil {
		return
	}
	if marker, ok := condition.ParseEligibility(cond.Expression); ok {
		if verdict == EvalConditional {
			c.available = append(c.available, RequesterPrivilege{
				ID:                id,
				Name:              id.Role,
				ActivationType:    marker.Type,
				Status:            StatusInactive,
				ResourceCondition: marker.ResourceCondition,
			})
		}
		return
	}
	if condition.IsActivated(cond) {
		window, _ := condition.ParseTemporaryWindow(cond.Expression)
		switch verdict {
		case EvalTrue:
			c.active[id] = Activation{Span: window.Span}
		case EvalFalse:
			c.expired[id] = Activation{Span: window.Span}
		}
	}
}

// set filters the accumulated classification by kinds and statuses and
// produces the final PrivilegeSet with tie-breaking applied.
func (c *classified) set(kinds []condition.ActivationKind, statuses []Status) *PrivilegeSet {
	available := mergeAvailable(c.available)
	if len(kinds) > 0 {
		filtered := available[:0]
		for _, p := range available {
			if containsKind(kinds, p.ActivationType.Kind) {
				filtered = append(filtered, p)
			}
		}
		available = filtered
	}

	s := &PrivilegeSet{
		Available: available,
		Active:    c.active,
		Expired:   c.expired,
		Warnings:  c.warnings,
	}
	if len(statuses) > 0 {
		if !containsStatus(statuses, StatusInactive) {
			s.Available = nil
		}
		if !containsStatus(statuses, StatusActive) {
			s.Active = map[resources.ProjectRole]Activation{}
		}
		if !containsStatus(statuses, StatusExpired) {
			s.Expired = map[resources.ProjectRole]Activation{}
		}
	}
	return s
}

func containsKind(kinds []condition.ActivationKind, k condition.ActivationKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func containsStatus(statuses []Status, s Status) bool {
	for _, status := range statuses {
		if status == s {
			return true
		}
	}
	return false
}

// evaluateCondition computes the verdict for one binding condition the way
// the effective-policy backend must: markers are CONDITIONAL, temporary
// windows evaluate against now, everything else is unspecified.
func evaluateCondition(cond *condition.Expr, now time.Time) Evaluation {
	if cond == nil {
		return EvalUnspecified
	}
	if _, ok := condition.ParseEligibility(cond.Expression); ok {
		return EvalConditional
	}
	if _, ok := condition.ParseReviewerPrivilege(cond.Expression); ok {
		return EvalConditional
	}
	if condition.IsTemporary(cond) {
		if condition.EvaluateTemporary(cond.Expression, now) {
			return EvalTrue
		}
		return EvalFalse
	}
	return EvalUnspecified
}
