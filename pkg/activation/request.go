// Package activation drives the stateless request lifecycle: building
// self-approval and multi-party requests, validating them against the
// catalog and the justification policy, and provisioning access. No request
// state is persisted; multi-party state travels inside the signed approval
// token.
package activation

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

// ID prefixes distinguishing the two request shapes.
const (
	selfIDPrefix = "jit-"
	mpaIDPrefix  = "mpa-"
)

func newSelfApprovalID() string { return selfIDPrefix + uuid.New().String() }
func newMpaID() string          { return mpaIDPrefix + uuid.New().String() }

// IsMpaID reports whether id names a multi-party request.
func IsMpaID(id string) bool { return strings.HasPrefix(id, mpaIDPrefix) }

// Request is an activation request. It satisfies the catalog's Request
// view; the multi-party shape embeds it.
type Request struct {
	id             string
	requestingUser resources.UserEmail
	privileges     []resources.ProjectRole
	justification  string
	startTime      time.Time
	duration       time.Duration
	activationType condition.ActivationType
}

// ID returns the globally unique activation id.
func (r *Request) ID() string { return r.id }

// RequestingUser returns the beneficiary.
func (r *Request) RequestingUser() resources.UserEmail { return r.requestingUser }

// Privileges returns the requested privileges, sorted, without duplicates.
func (r *Request) Privileges() []resources.ProjectRole { return r.privileges }

// Type returns the activation type of the request.
func (r *Request) Type() condition.ActivationType { return r.activationType }

// StartTime returns the beginning of the requested window.
func (r *Request) StartTime() time.Time { return r.startTime }

// EndTime returns startTime + duration.
func (r *Request) EndTime() time.Time { return r.startTime.Add(r.duration) }

// Duration returns the requested length.
func (r *Request) Duration() time.Duration { return r.duration }

// Justification returns the requester's free-text justification.
func (r *Request) Justification() string { return r.justification }

// Reviewers is empty for a self-approval.
func (r *Request) Reviewers() []resources.UserEmail { return nil }

// Span returns the requested window as a TimeSpan.
func (r *Request) Span() resources.TimeSpan {
	return resources.TimeSpan{Start: r.startTime, End: r.EndTime()}
}

// MpaRequest is a multi-party request: exactly one privilege plus the
// reviewer set.
type MpaRequest struct {
	Request
	reviewers []resources.UserEmail
}

// Reviewers returns the reviewer set, sorted, never containing the
// requester.
func (r *MpaRequest) Reviewers() []resources.UserEmail { return r.reviewers }

// Privilege returns the single requested privilege.
func (r *MpaRequest) Privilege() resources.ProjectRole { return r.privileges[0] }

func dedupePrivileges(privileges []resources.ProjectRole) []resources.ProjectRole {
	seen := make(map[resources.ProjectRole]bool, len(privileges))
	out := make([]resources.ProjectRole, 0, len(privileges))
	for _, p := range privileges {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

func dedupeReviewers(reviewers []resources.UserEmail) []resources.UserEmail {
	seen := make(map[resources.UserEmail]bool, len(reviewers))
	out := make([]resources.UserEmail, 0, len(reviewers))
	for _, r := range reviewers {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return resources.SortUserEmails(out)
}

func validateShape(user resources.UserEmail, privileges []resources.ProjectRole, duration time.Duration) error {
	if user.Email == "" {
		return apperr.New(apperr.InvalidArgument, "the request must carry a requesting user")
	}
	if len(privileges) == 0 {
		return apperr.New(apperr.InvalidArgument, "the request must name at least one role")
	}
	if duration <= 0 {
		return apperr.New(apperr.InvalidArgument, "the activation duration must be positive")
	}
	return nil
}
