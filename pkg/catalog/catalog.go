package catalog

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

// MinActivationDuration is the hard lower bound on activation duration.
const MinActivationDuration = 5 * time.Minute

const catalogTracer = "jitaccess.catalog"

// ProjectSearchClient searches projects by a resource-manager query. Used
// when scope listing is configured with a query instead of the accurate but
// slow per-user discovery.
type ProjectSearchClient interface {
	SearchProjects(ctx context.Context, query string) ([]resources.ProjectID, error)
}

// Request is the view of an activation request the catalog authorizes. Both
// request shapes implement it; Reviewers is empty for self-approval.
type Request interface {
	ID() string
	RequestingUser() resources.UserEmail
	Privileges() []resources.ProjectRole
	Type() condition.ActivationType
	StartTime() time.Time
	EndTime() time.Time
	Justification() string
	Reviewers() []resources.UserEmail
}

// Options bound what a single request may ask for.
type Options struct {
	// MaxActivationDuration caps the requested duration.
	MaxActivationDuration time.Duration
	// MaxRolesPerRequest caps the privilege count of a self-approval.
	MaxRolesPerRequest int
	// MinReviewers and MaxReviewers bound the reviewer set of an MPA
	// request.
	MinReviewers int
	MaxReviewers int
	// AvailableProjectsQuery, when set, switches scope listing to a
	// resource-manager search. Faster, but potentially over-broad: the
	// query may name projects the caller holds no eligibility on. The
	// information-disclosure trade-off is the deployment's choice.
	AvailableProjectsQuery string
}

// Catalog is the public read side: scopes, privileges, reviewers, and the
// authorization checks the activator relies on.
type Catalog struct {
	repo   RoleRepository
	search ProjectSearchClient
	opts   Options
	logger *slog.Logger
}

// New creates a Catalog. search may be nil when no project query is
// configured.
func New(repo RoleRepository, search ProjectSearchClient, opts Options) *Catalog {
	return &Catalog{
		repo:   repo,
		search: search,
		opts:   opts,
		logger: slog.Default().With("component", "catalog"),
	}
}

// Options returns the configured limits.
func (c *Catalog) Options() Options { return c.opts }

// UserContext binds the catalog to one verified caller.
type UserContext struct {
	User    resources.UserEmail
	catalog *Catalog
}

// CreateContext creates the per-caller view.
func (c *Catalog) CreateContext(user resources.UserEmail) *UserContext {
	return &UserContext{User: user, catalog: c}
}

// ListScopes returns the projects the caller may act upon.
func (c *Catalog) ListScopes(ctx context.Context, user resources.UserEmail) ([]resources.ProjectID, error) {
	ctx, span := otel.Tracer(catalogTracer).Start(ctx, "ListScopes",
		trace.WithAttributes(attribute.String("user", user.Email)))
	defer span.End()

	if c.opts.AvailableProjectsQuery != "" {
		if c.search == nil {
			return nil, apperr.New(apperr.Internal, "project search is not configured")
		}
		projects, err := c.search.SearchProjects(ctx, c.opts.AvailableProjectsQuery)
		if err != nil {
			return nil, err
		}
		return resources.SortProjectIDs(projects), nil
	}
	return c.repo.FindProjectsWithPrivileges(ctx, user)
}

// ListPrivileges returns the caller's classified privileges on project.
func (c *Catalog) ListPrivileges(ctx context.Context, user resources.UserEmail, project resources.ProjectID) (*PrivilegeSet, error) {
	ctx, span := otel.Tracer(catalogTracer).Start(ctx, "ListPrivileges",
		trace.WithAttributes(
			attribute.String("user", user.Email),
			attribute.String("project", project.ID),
		))
	defer span.End()

	return c.repo.FindPrivileges(ctx, user, project, nil, nil)
}

// ListReviewers returns the users qualified to review an activation of
// projectRole by user, never including user. The caller must hold a
// multi-party eligibility for the role.
func (c *Catalog) ListReviewers(ctx context.Context, user resources.UserEmail, projectRole resources.ProjectRole) ([]resources.UserEmail, error) {
	privileges, err := c.repo.FindPrivileges(ctx, user, projectRole.Project, nil, nil)
	if err != nil {
		return nil, err
	}
	requested, ok := privileges.AvailableType(projectRole)
	if !ok || (requested.Kind != condition.PeerApproval && requested.Kind != condition.ExternalApproval) {
		return nil, apperr.New(apperr.AccessDenied,
			"user %s holds no multi-party eligibility for %s", user, projectRole.ID())
	}

	holders, err := c.repo.FindReviewerHolders(ctx, projectRole, requested)
	if err != nil {
		return nil, err
	}
	reviewers := holders[:0]
	for _, holder := range holders {
		if holder != user {
			reviewers = append(reviewers, holder)
		}
	}
	return reviewers, nil
}

// VerifyUserCanRequest checks the request shape against the configured
// limits and the requester's eligibility for every requested privilege.
func (c *Catalog) VerifyUserCanRequest(ctx context.Context, req Request) error {
	if err := c.verifyLimits(req); err != nil {
		return err
	}
	return c.verifyEligibility(ctx, req.RequestingUser(), req)
}

// VerifyUserCanApprove checks the same limits, then the approver's
// qualification: requesters approve their own self-approvals, peers must
// hold the requested privilege themselves, and external reviewers must hold
// a covering reviewer privilege.
func (c *Catalog) VerifyUserCanApprove(ctx context.Context, approver resources.UserEmail, req Request) error {
	if err := c.verifyLimits(req); err != nil {
		return err
	}

	switch req.Type().Kind {
	case condition.SelfApproval:
		if approver != req.RequestingUser() {
			return apperr.New(apperr.AccessDenied, "a self-approval can only be completed by its requester")
		}
		return c.verifyEligibility(ctx, approver, req)

	case condition.PeerApproval:
		if approver == req.RequestingUser() {
			return apperr.New(apperr.AccessDenied, "requesters cannot approve their own request")
		}
		return c.verifyEligibility(ctx, approver, req)

	case condition.ExternalApproval:
		if approver == req.RequestingUser() {
			return apperr.New(apperr.AccessDenied, "requesters cannot approve their own request")
		}
		for _, privilege := range req.Privileges() {
			holders, err := c.repo.FindReviewerHolders(ctx, privilege, req.Type())
			if err != nil {
				return err
			}
			if !containsUser(holders, approver) {
				return apperr.New(apperr.AccessDenied,
					"user %s holds no reviewer privilege for %s", approver, privilege.ID())
			}
		}
		return nil

	default:
		return apperr.New(apperr.InvalidArgument, "request has no activation type")
	}
}

// verifyLimits enforces the request-shape invariants.
func (c *Catalog) verifyLimits(req Request) error {
	duration := req.EndTime().Sub(req.StartTime())
	if duration < MinActivationDuration {
		return apperr.New(apperr.InvalidArgument,
			"the activation duration must be at least %d minutes", int(MinActivationDuration.Minutes()))
	}
	if duration > c.opts.MaxActivationDuration {
		return apperr.New(apperr.InvalidArgument,
			"the activation duration must not exceed %d minutes", int(c.opts.MaxActivationDuration.Minutes()))
	}

	privileges := req.Privileges()
	if len(privileges) == 0 {
		return apperr.New(apperr.InvalidArgument, "the request must name at least one role")
	}

	switch req.Type().Kind {
	case condition.SelfApproval:
		if len(privileges) > c.opts.MaxRolesPerRequest {
			return apperr.New(apperr.InvalidArgument,
				"the request must not name more than %d roles", c.opts.MaxRolesPerRequest)
		}
	case condition.PeerApproval, condition.ExternalApproval:
		if len(privileges) != 1 {
			return apperr.New(apperr.InvalidArgument, "a multi-party request must name exactly one role")
		}
		reviewers := req.Reviewers()
		if len(reviewers) < c.opts.MinReviewers {
			return apperr.New(apperr.InvalidArgument,
				"at least %d reviewers must be specified", c.opts.MinReviewers)
		}
		if len(reviewers) > c.opts.MaxReviewers {
			return apperr.New(apperr.InvalidArgument,
				"at most %d reviewers can be specified", c.opts.MaxReviewers)
		}
		if containsUser(reviewers, req.RequestingUser()) {
			return apperr.New(apperr.InvalidArgument, "requesters cannot be their own reviewer")
		}
	default:
		return apperr.New(apperr.InvalidArgument, "request has no activation type")
	}
	return nil
}

// verifyEligibility checks that user currently holds every privilege of the
// request with an eligibility type covering the requested type.
func (c *Catalog) verifyEligibility(ctx context.Context, user resources.UserEmail, req Request) error {
	byProject := make(map[resources.ProjectID][]resources.ProjectRole)
	for _, privilege := range req.Privileges() {
		byProject[privilege.Project] = append(byProject[privilege.Project], privilege)
	}

	for project, privileges := range byProject {
		set, err := c.repo.FindPrivileges(ctx, user, project, nil, nil)
		if err != nil {
			return err
		}
		for _, privilege := range privileges {
			available, ok := set.AvailableType(privilege)
			if !ok || !available.Covers(req.Type()) {
				return apperr.New(apperr.AccessDenied,
					"user %s is not eligible to activate %s with %s", user, privilege.ID(), req.Type())
			}
		}
	}
	return nil
}

func containsUser(users []resources.UserEmail, user resources.UserEmail) bool {
	for _, u := range users {
		if u == user {
			return true
		}
	}
	return false
}
