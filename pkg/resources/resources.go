// Package resources defines the typed identifiers for the managed resource
// hierarchy: projects, users, role bindings, and time spans. All types are
// immutable value objects compared and ordered by value.
package resources

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
)

const projectResourcePrefix = "//cloudresourcemanager.googleapis.com/projects/"

var lowercase = cases.Lower(language.Und)

// ProjectID uniquely identifies a project in the managed hierarchy.
type ProjectID struct {
	ID string
}

// NewProjectID validates and creates a ProjectID. Leading "projects/" is
// accepted and stripped.
func NewProjectID(id string) (ProjectID, error) {
	id = strings.TrimPrefix(strings.TrimSpace(id), "projects/")
	if id == "" {
		return ProjectID{}, apperr.New(apperr.InvalidArgument, "project id must not be empty")
	}
	return ProjectID{ID: id}, nil
}

// ParseProjectFullResourceName parses a full resource name such as
// "//cloudresourcemanager.googleapis.com/projects/my-project".
func ParseProjectFullResourceName(name string) (ProjectID, bool) {
	if !strings.HasPrefix(name, projectResourcePrefix) {
		return ProjectID{}, false
	}
	id := strings.TrimPrefix(name, projectResourcePrefix)
	if id == "" || strings.Contains(id, "/") {
		return ProjectID{}, false
	}
	return ProjectID{ID: id}, true
}

// String returns the bare project id.
func (p ProjectID) String() string { return p.ID }

// Path returns the "projects/<id>" form used by resource-manager APIs.
func (p ProjectID) Path() string { return "projects/" + p.ID }

// FullResourceName returns the canonical asset-inventory resource path.
func (p ProjectID) FullResourceName() string { return projectResourcePrefix + p.ID }

// SortProjectIDs sorts ids lexicographically in place and returns them.
func SortProjectIDs(ids []ProjectID) []ProjectID {
	sort.Slice(ids, func(i, j int) bool { return ids[i].ID < ids[j].ID })
	return ids
}

// UserEmail identifies an end user, normalized to lowercase.
type UserEmail struct {
	Email string
}

// NewUserEmail normalizes and validates an email address.
func NewUserEmail(email string) (UserEmail, error) {
	email = lowercase.String(strings.TrimSpace(email))
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return UserEmail{}, apperr.New(apperr.InvalidArgument, "invalid email address %q", email)
	}
	return UserEmail{Email: email}, nil
}

// String returns the normalized address.
func (u UserEmail) String() string { return u.Email }

// IAMMember returns the "user:<email>" IAM member form.
func (u UserEmail) IAMMember() string { return "user:" + u.Email }

// SortUserEmails sorts emails lexicographically in place and returns them.
func SortUserEmails(users []UserEmail) []UserEmail {
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users
}

// RoleBinding identifies what access on which resource.
type RoleBinding struct {
	FullResourceName string
	Role             string
}

// Compare orders bindings lexicographically by (fullResourceName, role).
func (b RoleBinding) Compare(other RoleBinding) int {
	if c := strings.Compare(b.FullResourceName, other.FullResourceName); c != 0 {
		return c
	}
	return strings.Compare(b.Role, other.Role)
}

// ProjectRole is a RoleBinding narrowed to a project. It is used as the
// catalog key and as a map key.
type ProjectRole struct {
	Project ProjectID
	Role    string
}

// NewProjectRole creates a ProjectRole.
func NewProjectRole(project ProjectID, role string) ProjectRole {
	return ProjectRole{Project: project, Role: role}
}

// ID returns the identifier form "projects/<id>:<role>".
func (r ProjectRole) ID() string { return r.Project.Path() + ":" + r.Role }

// String is the identifier form.
func (r ProjectRole) String() string { return r.ID() }

// Binding widens the ProjectRole back to a RoleBinding.
func (r ProjectRole) Binding() RoleBinding {
	return RoleBinding{FullResourceName: r.Project.FullResourceName(), Role: r.Role}
}

// Compare orders project roles by their identifier form.
func (r ProjectRole) Compare(other ProjectRole) int {
	return strings.Compare(r.ID(), other.ID())
}

// ParseProjectRoleID parses the "projects/<id>:<role>" identifier form.
func ParseProjectRoleID(s string) (ProjectRole, error) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return ProjectRole{}, apperr.New(apperr.InvalidArgument, "invalid project role %q", s)
	}
	project, err := NewProjectID(s[:idx])
	if err != nil {
		return ProjectRole{}, err
	}
	role := s[idx+1:]
	if role == "" {
		return ProjectRole{}, apperr.New(apperr.InvalidArgument, "invalid project role %q: missing role", s)
	}
	return ProjectRole{Project: project, Role: role}, nil
}

// TimeSpan is a closed wall-clock interval with start <= end.
type TimeSpan struct {
	Start time.Time
	End   time.Time
}

// NewTimeSpan creates a TimeSpan, validating the ordering.
func NewTimeSpan(start, end time.Time) (TimeSpan, error) {
	if end.Before(start) {
		return TimeSpan{}, apperr.New(apperr.InvalidArgument, "time span end %s precedes start %s", end, start)
	}
	return TimeSpan{Start: start, End: end}, nil
}

// IsValid reports whether now falls inside the span (inclusive bounds).
func (t TimeSpan) IsValid(now time.Time) bool {
	return !now.Before(t.Start) && !now.After(t.End)
}

// Duration returns the length of the span.
func (t TimeSpan) Duration() time.Duration { return t.End.Sub(t.Start) }

// String formats the span for logs.
func (t TimeSpan) String() string {
	return fmt.Sprintf("[%s, %s]", t.Start.Format(time.RFC3339), t.End.Format(time.RFC3339))
}
