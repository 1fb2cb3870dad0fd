// Package catalog discovers and classifies role bindings across the managed
// resource hierarchy and exposes the read side of the activation model:
// scopes, requester privileges, reviewers, and the authorization checks for
// requesting and approving activations.
package catalog

import (
	"sort"

	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

// Status is the activation state of a requester privilege.
type Status int

const (
	// StatusInactive marks an eligible privilege with no current activation.
	StatusInactive Status = iota
	// StatusActive marks a privilege with a currently valid activation.
	StatusActive
	// StatusExpired marks a privilege whose last activation has lapsed.
	StatusExpired
)

// String returns the canonical name of the status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "INACTIVE"
	}
}

// RequesterPrivilege is one activatable (or activated) role on a project.
type RequesterPrivilege struct {
	ID             resources.ProjectRole
	Name           string
	ActivationType condition.ActivationType
	Status         Status
	// ResourceCondition is the trailing sub-expression of the eligibility
	// marker, preserved verbatim so activation re-emits it behind the
	// temporary window.
	ResourceCondition string
}

// ReviewerPrivilege is the capability to review activation requests for a
// role, scoped by the activation types it may review.
type ReviewerPrivilege struct {
	ID              resources.ProjectRole
	ReviewableTypes []condition.ActivationType
}

// Activation is a provisioned temporary binding.
type Activation struct {
	Span resources.TimeSpan
}

// PrivilegeSet is the classified view of a user's bindings on one project.
type PrivilegeSet struct {
	// Available holds the currently eligible privileges, sorted by ID, each
	// ID at most once.
	Available []RequesterPrivilege
	// Active maps privileges to their currently valid activation.
	Active map[resources.ProjectRole]Activation
	// Expired maps privileges to their lapsed activation.
	Expired map[resources.ProjectRole]Activation
	// Warnings carries non-fatal lookup problems, such as unreadable
	// external groups.
	Warnings []string
}

// Privileges merges the set into the single listing returned by the API:
// every available privilege annotated with its status, plus entries for
// activations whose eligibility has since been revoked, reported with
// activation type NO_ACTIVATION until their window ends.
func (s *PrivilegeSet) Privileges() []RequesterPrivilege {
	seen := make(map[resources.ProjectRole]bool, len(s.Available))
	out := make([]RequesterPrivilege, 0, len(s.Available)+len(s.Active)+len(s.Expired))

	for _, p := range s.Available {
		if _, ok := s.Active[p.ID]; ok {
			p.Status = StatusActive
		} else if _, ok := s.Expired[p.ID]; ok {
			p.Status = StatusExpired
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	for id := range s.Active {
		if !seen[id] {
			out = append(out, RequesterPrivilege{
				ID:             id,
				Name:           id.Role,
				ActivationType: condition.ActivationType{Kind: condition.NoActivation},
				Status:         StatusActive,
			})
		}
	}
	for id := range s.Expired {
		if !seen[id] {
			out = append(out, RequesterPrivilege{
				ID:             id,
				Name:           id.Role,
				ActivationType: condition.ActivationType{Kind: condition.NoActivation},
				Status:         StatusExpired,
			})
		}
	}

	sortPrivileges(out)
	return out
}

// AvailablePrivilege returns the available privilege with the given id.
func (s *PrivilegeSet) AvailablePrivilege(id resources.ProjectRole) (RequesterPrivilege, bool) {
	for _, p := range s.Available {
		if p.ID == id {
			return p, true
		}
	}
	return RequesterPrivilege{}, false
}

// AvailableType returns the eligibility type for id, if id is available.
func (s *PrivilegeSet) AvailableType(id resources.ProjectRole) (condition.ActivationType, bool) {
	p, ok := s.AvailablePrivilege(id)
	return p.ActivationType, ok
}

func sortPrivileges(privileges []RequesterPrivilege) {
	sort.Slice(privileges, func(i, j int) bool {
		return privileges[i].ID.Compare(privileges[j].ID) < 0
	})
}

// mergeAvailable deduplicates privileges by ID, preferring self-approval
// over any multi-party eligibility for the same ID, and sorts the result.
func mergeAvailable(privileges []RequesterPrivilege) []RequesterPrivilege {
	byID := make(map[resources.ProjectRole]RequesterPrivilege, len(privileges))
	for _, p := range privileges {
		existing, ok := byID[p.ID]
		if !ok {
			byID[p.ID] = p
			continue
		}
		if existing.ActivationType.Kind != condition.SelfApproval &&
			p.ActivationType.Kind == condition.SelfApproval {
			byID[p.ID] = p
		}
	}
	out := make([]RequesterPrivilege, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sortPrivileges(out)
	return out
}
