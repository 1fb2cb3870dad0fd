package catalog

import (
	"context"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

// projectsGetPermission is the probe permission used to discover the
// projects a user can see at all.
const projectsGetPermission = "resourcemanager.projects.get"

// AnalysisResult is one binding the policy analyzer reports as potentially
// applying to the analyzed principal. The analyzer has already expanded
// group memberships and evaluated the condition symbolically.
type AnalysisResult struct {
	FullResourceName string
	Role             string
	Condition        *condition.Expr
	Evaluation       Evaluation
}

// PrincipalResult is one principal the analyzer reports as holding a role,
// together with the condition gating the grant.
type PrincipalResult struct {
	Principal resources.UserEmail
	Condition *condition.Expr
}

// PolicyAnalyzerClient is the personalized analyzer API: expensive, but it
// expands groups and evaluates conditions server-side.
type PolicyAnalyzerClient interface {
	// FindAccessibleResourcesByUser returns the resources on which user
	// holds permission anywhere under scope.
	FindAccessibleResourcesByUser(ctx context.Context, scope string, user resources.UserEmail,
		permission string, expandResources bool) ([]AnalysisResult, error)

	// FindRoleBindingsByUser returns every binding under scope that could
	// apply to user on the resource, with condition verdicts.
	FindRoleBindingsByUser(ctx context.Context, scope string, user resources.UserEmail,
		fullResourceName string) ([]AnalysisResult, error)

	// FindPrincipalsWithRole returns the principals holding role on the
	// resource, group-expanded.
	FindPrincipalsWithRole(ctx context.Context, scope string,
		fullResourceName, role string) ([]PrincipalResult, error)
}

// PolicyAnalyzerRepository implements RoleRepository on the analyzer API.
type PolicyAnalyzerRepository struct {
	client PolicyAnalyzerClient
	scope  string
}

// NewPolicyAnalyzerRepository creates the analyzer-backed repository. scope
// is the organization, folder, or project path the deployment manages.
func NewPolicyAnalyzerRepository(client PolicyAnalyzerClient, scope string) *PolicyAnalyzerRepository {
	return &PolicyAnalyzerRepository{client: client, scope: scope}
}

// FindProjectsWithPrivileges probes for resourcemanager.projects.get and
// retains only results that parse as projects.
func (r *PolicyAnalyzerRepository) FindProjectsWithPrivileges(ctx context.Context, user resources.UserEmail) ([]resources.ProjectID, error) {
	results, err := r.client.FindAccessibleResourcesByUser(ctx, r.scope, user, projectsGetPermission, true)
	if err != nil {
		return nil, err
	}
	seen := make(map[resources.ProjectID]bool)
	var projects []resources.ProjectID
	for _, res := range results {
		if project, ok := resources.ParseProjectFullResourceName(res.FullResourceName); ok && !seen[project] {
			seen[project] = true
			projects = append(projects, project)
		}
	}
	return resources.SortProjectIDs(projects), nil
}

// FindPrivileges classifies the analyzer's verdicts per the shared rules.
func (r *PolicyAnalyzerRepository) FindPrivileges(ctx context.Context, user resources.UserEmail, project resources.ProjectID,
	kinds []condition.ActivationKind, statuses []Status) (*PrivilegeSet, error) {

	results, err := r.client.FindRoleBindingsByUser(ctx, r.scope, user, project.FullResourceName())
	if err != nil {
		return nil, err
	}

	c := newClassified()
	for _, res := range results {
		if res.FullResourceName != project.FullResourceName() {
			continue
		}
		c.classify(resources.NewProjectRole(project, res.Role), res.Condition, res.Evaluation)
	}
	return c.set(kinds, statuses), nil
}

// FindReviewerHolders returns the users whose bindings qualify them to
// review an activation of projectRole with activationType.
func (r *PolicyAnalyzerRepository) FindReviewerHolders(ctx context.Context, projectRole resources.ProjectRole,
	activationType condition.ActivationType) ([]resources.UserEmail, error) {

	if activationType.Kind != condition.PeerApproval && activationType.Kind != condition.ExternalApproval {
		return nil, apperr.New(apperr.InvalidArgument, "activation type %s has no reviewers", activationType)
	}

	principals, err := r.client.FindPrincipalsWithRole(ctx, r.scope,
		projectRole.Project.FullResourceName(), projectRole.Role)
	if err != nil {
		return nil, err
	}

	seen := make(map[resources.UserEmail]bool)
	var holders []resources.UserEmail
	for _, p := range principals {
		if p.Condition == nil || !reviewerQualifies(p.Condition.Expression, activationType) {
			continue
		}
		if !seen[p.Principal] {
			seen[p.Principal] = true
			holders = append(holders, p.Principal)
		}
	}
	return resources.SortUserEmails(holders), nil
}

// reviewerQualifies reports whether a holder's condition expression grants
// review capability for the requested activation type. Peer approvals are
// reviewed by holders of the same peer eligibility; external approvals by
// holders of the paired reviewer privilege.
func reviewerQualifies(expr string, requested condition.ActivationType) bool {
	switch requested.Kind {
	case condition.PeerApproval:
		marker, ok := condition.ParseEligibility(expr)
		return ok && marker.Type.Covers(requested)
	case condition.ExternalApproval:
		marker, ok := condition.ParseReviewerPrivilege(expr)
		if !ok {
			return false
		}
		capability, err := condition.NewActivationType(condition.ExternalApproval, marker.Topic)
		if err != nil {
			return false
		}
		return capability.Covers(requested)
	default:
		return false
	}
}
