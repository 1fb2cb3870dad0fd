package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

type fakeAnalyzer struct {
	accessible []AnalysisResult
	bindings   []AnalysisResult
	principals []PrincipalResult

	permission string
	resource   string
	role       string
}

func (f *fakeAnalyzer) FindAccessibleResourcesByUser(ctx context.Context, scope string, user resources.UserEmail,
	permission string, expandResources bool) ([]AnalysisResult, error) {
	f.permission = permission
	return f.accessible, nil
}

func (f *fakeAnalyzer) FindRoleBindingsByUser(ctx context.Context, scope string, user resources.UserEmail,
	fullResourceName string) ([]AnalysisResult, error) {
	f.resource = fullResourceName
	return f.bindings, nil
}

func (f *fakeAnalyzer) FindPrincipalsWithRole(ctx context.Context, scope string,
	fullResourceName, role string) ([]PrincipalResult, error) {
	f.resource = fullResourceName
	f.role = role
	return f.principals, nil
}

func TestAnalyzerProjectDiscovery(t *testing.T) {
	analyzer := &fakeAnalyzer{accessible: []AnalysisResult{
		{FullResourceName: "//cloudresourcemanager.googleapis.com/projects/beta"},
		{FullResourceName: "//cloudresourcemanager.googleapis.com/projects/alpha"},
		{FullResourceName: "//cloudresourcemanager.googleapis.com/projects/beta"},
		{FullResourceName: "//cloudresourcemanager.googleapis.com/folders/99"},
	}}
	repo := NewPolicyAnalyzerRepository(analyzer, "organizations/1")

	projects, err := repo.FindProjectsWithPrivileges(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, []resources.ProjectID{{ID: "alpha"}, {ID: "beta"}}, projects,
		"deduplicated, project-only, sorted")
	assert.Equal(t, projectsGetPermission, analyzer.permission)
}

func TestAnalyzerFindPrivileges(t *testing.T) {
	analyzer := &fakeAnalyzer{bindings: []AnalysisResult{
		{
			FullResourceName: project1.FullResourceName(),
			Role:             "roles/compute.viewer",
			Condition:        &condition.Expr{Expression: "has({}.jitAccessConstraint)"},
			Evaluation:       EvalConditional,
		},
		// Ancestor bindings are reported with their own resource name and
		// must not classify against the project.
		{
			FullResourceName: "//cloudresourcemanager.googleapis.com/folders/99",
			Role:             "roles/storage.admin",
			Condition:        &condition.Expr{Expression: "has({}.jitAccessConstraint)"},
			Evaluation:       EvalConditional,
		},
	}}
	repo := NewPolicyAnalyzerRepository(analyzer, "organizations/1")

	set, err := repo.FindPrivileges(context.Background(), alice, project1, nil, nil)
	require.NoError(t, err)
	require.Len(t, set.Available, 1)
	assert.Equal(t, viewer, set.Available[0].ID)
	assert.Equal(t, project1.FullResourceName(), analyzer.resource)
}

func TestAnalyzerFindReviewerHoldersPeer(t *testing.T) {
	analyzer := &fakeAnalyzer{principals: []PrincipalResult{
		{Principal: bob, Condition: &condition.Expr{Expression: "has({}.multiPartyApprovalConstraint)"}},
		{Principal: carol, Condition: &condition.Expr{Expression: "has({}.jitAccessConstraint)"}},
		{Principal: alice, Condition: nil},
	}}
	repo := NewPolicyAnalyzerRepository(analyzer, "organizations/1")

	holders, err := repo.FindReviewerHolders(context.Background(), viewer,
		condition.ActivationType{Kind: condition.PeerApproval})
	require.NoError(t, err)
	assert.Equal(t, []resources.UserEmail{bob}, holders)
	assert.Equal(t, viewer.Role, analyzer.role)
}

func TestAnalyzerFindReviewerHoldersTopic(t *testing.T) {
	analyzer := &fakeAnalyzer{principals: []PrincipalResult{
		{Principal: bob, Condition: &condition.Expr{Expression: "has({}.reviewerPrivilege.oncall)"}},
		{Principal: carol, Condition: &condition.Expr{Expression: "has({}.reviewerPrivilege.billing)"}},
		{Principal: alice, Condition: &condition.Expr{Expression: "has({}.reviewerPrivilege)"}},
	}}
	repo := NewPolicyAnalyzerRepository(analyzer, "organizations/1")

	requested, err := condition.NewActivationType(condition.ExternalApproval, "oncall")
	require.NoError(t, err)

	holders, err := repo.FindReviewerHolders(context.Background(), viewer, requested)
	require.NoError(t, err)
	// The topic-less reviewer privilege covers every topic, the matching
	// topical one covers this request, the other topic does not.
	assert.Equal(t, []resources.UserEmail{alice, bob}, holders)
}

func TestAnalyzerFindReviewerHoldersRejectsSelf(t *testing.T) {
	repo := NewPolicyAnalyzerRepository(&fakeAnalyzer{}, "organizations/1")

	_, err := repo.FindReviewerHolders(context.Background(), viewer,
		condition.ActivationType{Kind: condition.SelfApproval})
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}
