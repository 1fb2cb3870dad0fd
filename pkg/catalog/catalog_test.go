package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

var (
	alice = resources.UserEmail{Email: "alice@example.org"}
	bob   = resources.UserEmail{Email: "bob@example.org"}
	carol = resources.UserEmail{Email: "carol@example.org"}

	project1 = resources.ProjectID{ID: "project-1"}
	viewer   = resources.NewProjectRole(project1, "roles/compute.viewer")
	admin    = resources.NewProjectRole(project1, "roles/storage.admin")
)

type fakeRequest struct {
	user          resources.UserEmail
	privileges    []resources.ProjectRole
	typ           condition.ActivationType
	start, end    time.Time
	justification string
	reviewers     []resources.UserEmail
}

func (r *fakeRequest) ID() string                            { return "jit-test" }
func (r *fakeRequest) RequestingUser() resources.UserEmail   { return r.user }
func (r *fakeRequest) Privileges() []resources.ProjectRole   { return r.privileges }
func (r *fakeRequest) Type() condition.ActivationType        { return r.typ }
func (r *fakeRequest) StartTime() time.Time                  { return r.start }
func (r *fakeRequest) EndTime() time.Time                    { return r.end }
func (r *fakeRequest) Justification() string                 { return r.justification }
func (r *fakeRequest) Reviewers() []resources.UserEmail      { return r.reviewers }

// fakeRepo serves canned privilege sets per user and holders per role.
type fakeRepo struct {
	sets     map[resources.UserEmail]*PrivilegeSet
	holders  map[resources.ProjectRole][]resources.UserEmail
	projects []resources.ProjectID
}

func (f *fakeRepo) FindProjectsWithPrivileges(ctx context.Context, user resources.UserEmail) ([]resources.ProjectID, error) {
	return f.projects, nil
}

func (f *fakeRepo) FindPrivileges(ctx context.Context, user resources.UserEmail, project resources.ProjectID,
	kinds []condition.ActivationKind, statuses []Status) (*PrivilegeSet, error) {
	if set, ok := f.sets[user]; ok {
		return set, nil
	}
	return &PrivilegeSet{}, nil
}

func (f *fakeRepo) FindReviewerHolders(ctx context.Context, projectRole resources.ProjectRole,
	activationType condition.ActivationType) ([]resources.UserEmail, error) {
	return f.holders[projectRole], nil
}

func available(user resources.UserEmail, kind condition.ActivationKind, roles ...resources.ProjectRole) map[resources.UserEmail]*PrivilegeSet {
	set := &PrivilegeSet{}
	for _, role := range roles {
		set.Available = append(set.Available, RequesterPrivilege{
			ID:             role,
			Name:           role.Role,
			ActivationType: condition.ActivationType{Kind: kind},
		})
	}
	return map[resources.UserEmail]*PrivilegeSet{user: set}
}

func defaultOptions() Options {
	return Options{
		MaxActivationDuration: 120 * time.Minute,
		MaxRolesPerRequest:    10,
		MinReviewers:          1,
		MaxReviewers:          10,
	}
}

func selfRequest(duration time.Duration, roles ...resources.ProjectRole) *fakeRequest {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	return &fakeRequest{
		user:          alice,
		privileges:    roles,
		typ:           condition.ActivationType{Kind: condition.SelfApproval},
		start:         start,
		end:           start.Add(duration),
		justification: "BUG-1",
	}
}

func peerRequest(reviewers ...resources.UserEmail) *fakeRequest {
	req := selfRequest(30*time.Minute, viewer)
	req.typ = condition.ActivationType{Kind: condition.PeerApproval}
	req.reviewers = reviewers
	return req
}

func TestVerifyDurationLimits(t *testing.T) {
	c := New(&fakeRepo{sets: available(alice, condition.SelfApproval, viewer)}, nil, defaultOptions())

	err := c.VerifyUserCanRequest(context.Background(), selfRequest(121*time.Minute, viewer))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
	assert.Contains(t, err.Error(), "120")

	err = c.VerifyUserCanRequest(context.Background(), selfRequest(4*time.Minute, viewer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5")

	assert.NoError(t, c.VerifyUserCanRequest(context.Background(), selfRequest(120*time.Minute, viewer)))
	assert.NoError(t, c.VerifyUserCanRequest(context.Background(), selfRequest(5*time.Minute, viewer)))
}

func TestVerifyRoleLimits(t *testing.T) {
	opts := defaultOptions()
	opts.MaxRolesPerRequest = 1
	c := New(&fakeRepo{sets: available(alice, condition.SelfApproval, viewer, admin)}, nil, opts)

	err := c.VerifyUserCanRequest(context.Background(), selfRequest(30*time.Minute, viewer, admin))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 roles")

	err = c.VerifyUserCanRequest(context.Background(), selfRequest(30*time.Minute))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one role")
}

func TestVerifyReviewerLimits(t *testing.T) {
	opts := defaultOptions()
	opts.MinReviewers = 2
	opts.MaxReviewers = 3
	c := New(&fakeRepo{sets: available(alice, condition.PeerApproval, viewer)}, nil, opts)

	err := c.VerifyUserCanRequest(context.Background(), peerRequest(bob))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 reviewers")

	reviewers := []resources.UserEmail{bob, carol,
		{Email: "dan@example.org"}, {Email: "eve@example.org"}}
	err = c.VerifyUserCanRequest(context.Background(), peerRequest(reviewers...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at most 3 reviewers")

	err = c.VerifyUserCanRequest(context.Background(), peerRequest(bob, alice))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requesters cannot be their own reviewer")

	assert.NoError(t, c.VerifyUserCanRequest(context.Background(), peerRequest(bob, carol)))
}

func TestVerifyMultiPartySingleRole(t *testing.T) {
	c := New(&fakeRepo{sets: available(alice, condition.PeerApproval, viewer, admin)}, nil, defaultOptions())

	req := peerRequest(bob)
	req.privileges = []resources.ProjectRole{viewer, admin}
	err := c.VerifyUserCanRequest(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one role")
}

func TestVerifyEligibilityCovering(t *testing.T) {
	// Alice holds a peer eligibility only. Requesting self-approval must
	// fail; requesting peer approval must pass.
	c := New(&fakeRepo{sets: available(alice, condition.PeerApproval, viewer)}, nil, defaultOptions())

	err := c.VerifyUserCanRequest(context.Background(), selfRequest(30*time.Minute, viewer))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.AccessDenied))

	assert.NoError(t, c.VerifyUserCanRequest(context.Background(), peerRequest(bob)))
}

func TestVerifyEligibilityTopicCovering(t *testing.T) {
	set := &PrivilegeSet{Available: []RequesterPrivilege{{
		ID:             viewer,
		Name:           viewer.Role,
		ActivationType: condition.ActivationType{Kind: condition.PeerApproval, Topic: "oncall"},
	}}}
	c := New(&fakeRepo{sets: map[resources.UserEmail]*PrivilegeSet{alice: set}}, nil, defaultOptions())

	// The held type carries a topic; a request for the identical topic
	// passes, a request for the bare parent type does not.
	req := peerRequest(bob)
	req.typ = condition.ActivationType{Kind: condition.PeerApproval, Topic: "oncall"}
	assert.NoError(t, c.VerifyUserCanRequest(context.Background(), req))

	req.typ = condition.ActivationType{Kind: condition.PeerApproval}
	err := c.VerifyUserCanRequest(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.AccessDenied))
}

func TestVerifyApproveSelf(t *testing.T) {
	c := New(&fakeRepo{sets: available(alice, condition.SelfApproval, viewer)}, nil, defaultOptions())
	req := selfRequest(30*time.Minute, viewer)

	assert.NoError(t, c.VerifyUserCanApprove(context.Background(), alice, req))

	err := c.VerifyUserCanApprove(context.Background(), bob, req)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.AccessDenied))
}

func TestVerifyApprovePeer(t *testing.T) {
	sets := available(alice, condition.PeerApproval, viewer)
	sets[bob] = &PrivilegeSet{Available: []RequesterPrivilege{{
		ID:             viewer,
		ActivationType: condition.ActivationType{Kind: condition.PeerApproval},
	}}}
	c := New(&fakeRepo{sets: sets}, nil, defaultOptions())
	req := peerRequest(bob, carol)

	assert.NoError(t, c.VerifyUserCanApprove(context.Background(), bob, req))

	// Requesters never approve their own request.
	err := c.VerifyUserCanApprove(context.Background(), alice, req)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.AccessDenied))
	assert.Contains(t, err.Error(), "their own request")

	// Carol was named as reviewer but holds no peer eligibility herself.
	err = c.VerifyUserCanApprove(context.Background(), carol, req)
	assert.True(t, apperr.Is(err, apperr.AccessDenied))
}

func TestVerifyApproveExternal(t *testing.T) {
	c := New(&fakeRepo{
		sets:    available(alice, condition.ExternalApproval, viewer),
		holders: map[resources.ProjectRole][]resources.UserEmail{viewer: {carol}},
	}, nil, defaultOptions())

	req := peerRequest(carol)
	req.typ = condition.ActivationType{Kind: condition.ExternalApproval}

	// Carol holds the reviewer privilege; she need not hold the role itself.
	assert.NoError(t, c.VerifyUserCanApprove(context.Background(), carol, req))

	err := c.VerifyUserCanApprove(context.Background(), bob, req)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.AccessDenied))
	assert.Contains(t, err.Error(), "reviewer privilege")
}

func TestListReviewersExcludesRequester(t *testing.T) {
	c := New(&fakeRepo{
		sets:    available(alice, condition.PeerApproval, viewer),
		holders: map[resources.ProjectRole][]resources.UserEmail{viewer: {alice, bob, carol}},
	}, nil, defaultOptions())

	reviewers, err := c.ListReviewers(context.Background(), alice, viewer)
	require.NoError(t, err)
	assert.Equal(t, []resources.UserEmail{bob, carol}, reviewers)
}

func TestListReviewersRequiresMultiPartyEligibility(t *testing.T) {
	c := New(&fakeRepo{sets: available(alice, condition.SelfApproval, viewer)}, nil, defaultOptions())

	_, err := c.ListReviewers(context.Background(), alice, viewer)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.AccessDenied))
}

type fakeSearch struct {
	query    string
	projects []resources.ProjectID
}

func (f *fakeSearch) SearchProjects(ctx context.Context, query string) ([]resources.ProjectID, error) {
	f.query = query
	return f.projects, nil
}

func TestListScopes(t *testing.T) {
	repo := &fakeRepo{projects: []resources.ProjectID{project1}}

	c := New(repo, nil, defaultOptions())
	projects, err := c.ListScopes(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, []resources.ProjectID{project1}, projects)

	// With a query configured the search client takes over and the result
	// is sorted.
	opts := defaultOptions()
	opts.AvailableProjectsQuery = "labels.jit=enabled"
	search := &fakeSearch{projects: []resources.ProjectID{{ID: "b"}, {ID: "a"}}}
	c = New(repo, search, opts)
	projects, err = c.ListScopes(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, "labels.jit=enabled", search.query)
	assert.Equal(t, []resources.ProjectID{{ID: "a"}, {ID: "b"}}, projects)
}

func TestMergeAvailablePrefersSelfApproval(t *testing.T) {
	merged := mergeAvailable([]RequesterPrivilege{
		{ID: viewer, ActivationType: condition.ActivationType{Kind: condition.PeerApproval}},
		{ID: viewer, ActivationType: condition.ActivationType{Kind: condition.SelfApproval}},
		{ID: admin, ActivationType: condition.ActivationType{Kind: condition.PeerApproval}},
	})
	require.Len(t, merged, 2)
	assert.Equal(t, condition.SelfApproval, merged[0].ActivationType.Kind, "self-approval wins the tie for %s", merged[0].ID.ID())
	assert.Equal(t, viewer, merged[0].ID)
	assert.Equal(t, admin, merged[1].ID)
}

func TestPrivilegesAnnotatesStatus(t *testing.T) {
	span := resources.TimeSpan{
		Start: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC),
	}
	set := &PrivilegeSet{
		Available: []RequesterPrivilege{
			{ID: viewer, ActivationType: condition.ActivationType{Kind: condition.SelfApproval}},
			{ID: admin, ActivationType: condition.ActivationType{Kind: condition.SelfApproval}},
		},
		Active:  map[resources.ProjectRole]Activation{viewer: {Span: span}},
		Expired: map[resources.ProjectRole]Activation{admin: {Span: span}},
	}

	privileges := set.Privileges()
	require.Len(t, privileges, 2)
	byID := map[resources.ProjectRole]RequesterPrivilege{}
	for _, p := range privileges {
		byID[p.ID] = p
	}
	assert.Equal(t, StatusActive, byID[viewer].Status)
	assert.Equal(t, StatusExpired, byID[admin].Status)
}

func TestPrivilegesReportsOrphanActivations(t *testing.T) {
	// An activation whose eligibility has since been revoked still shows up,
	// with no activation type attached.
	span := resources.TimeSpan{
		Start: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC),
	}
	set := &PrivilegeSet{
		Active: map[resources.ProjectRole]Activation{viewer: {Span: span}},
	}

	privileges := set.Privileges()
	require.Len(t, privileges, 1)
	assert.Equal(t, viewer, privileges[0].ID)
	assert.Equal(t, condition.NoActivation, privileges[0].ActivationType.Kind)
	assert.Equal(t, StatusActive, privileges[0].Status)
}

func TestClassifyRules(t *testing.T) {
	marker := &condition.Expr{Expression: "has({}.jitAccessConstraint)"}
	span := resources.TimeSpan{
		Start: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC),
	}
	activated := &condition.Expr{
		Title:      condition.ActivationTitle,
		Expression: condition.NewTemporaryExpression(span, ""),
	}

	c := newClassified()
	c.classify(viewer, marker, EvalConditional)
	c.classify(admin, activated, EvalTrue)
	c.classify(resources.NewProjectRole(project1, "roles/run.invoker"), activated, EvalFalse)
	// Verdicts that do not fit the rules are dropped.
	c.classify(resources.NewProjectRole(project1, "roles/x"), marker, EvalTrue)
	c.classify(resources.NewProjectRole(project1, "roles/y"), nil, EvalTrue)
	c.classify(resources.NewProjectRole(project1, "roles/z"), &condition.Expr{Expression: "true"}, EvalTrue)

	set := c.set(nil, nil)
	require.Len(t, set.Available, 1)
	assert.Equal(t, viewer, set.Available[0].ID)
	assert.Contains(t, set.Active, admin)
	assert.Contains(t, set.Expired, resources.NewProjectRole(project1, "roles/run.invoker"))
	assert.Len(t, set.Active, 1)
	assert.Len(t, set.Expired, 1)
}

func TestClassifyPreservesResourceCondition(t *testing.T) {
	rc := `resource.name.startsWith("projects/project-1/buckets/B")`
	c := newClassified()
	c.classify(viewer, &condition.Expr{Expression: "has({}.jitAccessConstraint) && " + rc}, EvalConditional)

	set := c.set(nil, nil)
	require.Len(t, set.Available, 1)
	assert.Equal(t, rc, set.Available[0].ResourceCondition)
}

func TestSetFilters(t *testing.T) {
	span := resources.TimeSpan{
		Start: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC),
	}
	c := newClassified()
	c.available = []RequesterPrivilege{
		{ID: viewer, ActivationType: condition.ActivationType{Kind: condition.SelfApproval}},
		{ID: admin, ActivationType: condition.ActivationType{Kind: condition.PeerApproval}},
	}
	c.active[viewer] = Activation{Span: span}

	set := c.set([]condition.ActivationKind{condition.PeerApproval}, nil)
	require.Len(t, set.Available, 1)
	assert.Equal(t, admin, set.Available[0].ID)

	c2 := newClassified()
	c2.available = c.available
	c2.active[viewer] = Activation{Span: span}
	set = c2.set(nil, []Status{StatusActive})
	assert.Empty(t, set.Available)
	assert.Len(t, set.Active, 1)
}
