package provision

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

var errConflict = errors.New("etag mismatch")

// fakePolicyClient simulates the read-modify-write cycle against an
// in-memory policy, optionally failing the first N writes with a conflict.
type fakePolicyClient struct {
	policy        *Policy
	conflictsLeft int
	gets          int
	sets          int
	lastReason    string
}

func (f *fakePolicyClient) GetProjectPolicy(ctx context.Context, project resources.ProjectID, requestReason string) (*Policy, error) {
	f.gets++
	f.lastReason = requestReason
	bindings := make([]*Binding, len(f.policy.Bindings))
	copy(bindings, f.policy.Bindings)
	return &Policy{Version: f.policy.Version, Etag: f.policy.Etag, Bindings: bindings}, nil
}

func (f *fakePolicyClient) SetProjectPolicy(ctx context.Context, project resources.ProjectID, policy *Policy, requestReason string) error {
	f.sets++
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return errConflict
	}
	f.policy = policy
	f.policy.Etag = fmt.Sprintf("etag-%d", f.sets)
	return nil
}

func (f *fakePolicyClient) IsConflict(err error) bool {
	return errors.Is(err, errConflict)
}

func noSleep(e *Engine) {
	e.sleep = func(context.Context, time.Duration) error { return nil }
}

func activatedBinding(member string) *Binding {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	return &Binding{
		Role:    "roles/compute.viewer",
		Members: []string{member},
		Condition: &condition.Expr{
			Title:       condition.ActivationTitle,
			Description: "Self-approved, justification: BUG-1",
			Expression: condition.NewTemporaryExpression(
				resources.TimeSpan{Start: start, End: start.Add(30 * time.Minute)}, ""),
		},
	}
}

func TestAddProjectBindingAppends(t *testing.T) {
	client := &fakePolicyClient{policy: &Policy{Etag: "e0"}}
	engine := NewEngine(client, nil)
	noSleep(engine)

	project := resources.ProjectID{ID: "p1"}
	err := engine.AddProjectBinding(context.Background(), project, activatedBinding("user:alice@example.org"), 0, "activation jit-1")
	require.NoError(t, err)

	require.Len(t, client.policy.Bindings, 1)
	assert.Equal(t, PolicyVersion, client.policy.Version)
	assert.Equal(t, "activation jit-1", client.lastReason)
}

func TestAddProjectBindingRetriesOnConflict(t *testing.T) {
	client := &fakePolicyClient{policy: &Policy{Etag: "e0"}, conflictsLeft: 2}
	engine := NewEngine(client, nil)
	noSleep(engine)

	err := engine.AddProjectBinding(context.Background(), resources.ProjectID{ID: "p1"},
		activatedBinding("user:alice@example.org"), 0, "r")
	require.NoError(t, err)
	assert.Equal(t, 3, client.sets, "two conflicts then success")
	assert.Equal(t, 3, client.gets, "every attempt re-reads the policy")
}

func TestAddProjectBindingExhaustsAttemptBudget(t *testing.T) {
	client := &fakePolicyClient{policy: &Policy{Etag: "e0"}, conflictsLeft: 10}
	engine := NewEngine(client, nil)
	noSleep(engine)

	err := engine.AddProjectBinding(context.Background(), resources.ProjectID{ID: "p1"},
		activatedBinding("user:alice@example.org"), 0, "r")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.AlreadyExists))
	assert.Contains(t, err.Error(), "concurrent modification")
	assert.Equal(t, 4, client.sets)
}

func TestAddProjectBindingFailFastOnOtherErrors(t *testing.T) {
	client := &failingWriteClient{err: apperr.New(apperr.AccessDenied, "setIamPolicy denied")}
	engine := NewEngine(client, nil)
	noSleep(engine)

	err := engine.AddProjectBinding(context.Background(), resources.ProjectID{ID: "p1"},
		activatedBinding("user:alice@example.org"), 0, "r")
	assert.True(t, apperr.Is(err, apperr.AccessDenied))
	assert.Equal(t, 1, client.sets, "non-conflict errors are not retried")
}

type failingWriteClient struct {
	sets int
	err  error
}

func (f *failingWriteClient) GetProjectPolicy(ctx context.Context, project resources.ProjectID, requestReason string) (*Policy, error) {
	return &Policy{Etag: "e0"}, nil
}

func (f *failingWriteClient) SetProjectPolicy(ctx context.Context, project resources.ProjectID, policy *Policy, requestReason string) error {
	f.sets++
	return f.err
}

func (f *failingWriteClient) IsConflict(err error) bool { return false }

func TestPurgeExistingTemporaryBindings(t *testing.T) {
	stale := activatedBinding("user:alice@example.org")
	unrelatedRole := activatedBinding("user:alice@example.org")
	unrelatedRole.Role = "roles/storage.admin"
	otherMember := activatedBinding("user:bob@example.org")
	permanent := &Binding{Role: "roles/compute.viewer", Members: []string{"user:alice@example.org"}}

	client := &fakePolicyClient{policy: &Policy{
		Etag:     "e0",
		Bindings: []*Binding{stale, unrelatedRole, otherMember, permanent},
	}}
	engine := NewEngine(client, nil)
	noSleep(engine)

	next := activatedBinding("user:alice@example.org")
	next.Condition.Description = "Self-approved, justification: BUG-2"
	err := engine.AddProjectBinding(context.Background(), resources.ProjectID{ID: "p1"},
		next, PurgeExistingTemporaryBindings, "r")
	require.NoError(t, err)

	require.Len(t, client.policy.Bindings, 4, "stale temporary binding replaced, everything else kept")
	assert.Contains(t, client.policy.Bindings, unrelatedRole)
	assert.Contains(t, client.policy.Bindings, otherMember)
	assert.Contains(t, client.policy.Bindings, permanent)
	assert.Contains(t, client.policy.Bindings, next)
	assert.NotContains(t, client.policy.Bindings, stale)
}

func TestFailIfBindingExists(t *testing.T) {
	existing := activatedBinding("user:alice@example.org")
	client := &fakePolicyClient{policy: &Policy{Etag: "e0", Bindings: []*Binding{existing}}}
	engine := NewEngine(client, nil)
	noSleep(engine)

	duplicate := activatedBinding("user:alice@example.org")
	err := engine.AddProjectBinding(context.Background(), resources.ProjectID{ID: "p1"},
		duplicate, FailIfBindingExists, "r")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.AlreadyExists))
	assert.Equal(t, 0, client.sets, "no write is attempted")
}

func TestAddProjectBindingValidatesShape(t *testing.T) {
	engine := NewEngine(&fakePolicyClient{policy: &Policy{}}, nil)
	noSleep(engine)

	err := engine.AddProjectBinding(context.Background(), resources.ProjectID{ID: "p1"}, nil, 0, "r")
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))

	err = engine.AddProjectBinding(context.Background(), resources.ProjectID{ID: "p1"},
		&Binding{Role: "roles/x"}, 0, "r")
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}

func TestAddProjectBindingChecksCondition(t *testing.T) {
	validator, err := condition.NewValidator()
	require.NoError(t, err)
	engine := NewEngine(&fakePolicyClient{policy: &Policy{}}, validator)
	noSleep(engine)

	bad := activatedBinding("user:alice@example.org")
	bad.Condition.Expression = "request.time >= timestamp("
	err = engine.AddProjectBinding(context.Background(), resources.ProjectID{ID: "p1"}, bad, 0, "r")
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}

func TestBindingEqual(t *testing.T) {
	a := activatedBinding("user:alice@example.org")
	b := activatedBinding("user:alice@example.org")
	assert.True(t, a.Equal(b))

	b.Members = []string{"user:alice@example.org", "user:bob@example.org"}
	assert.False(t, a.Equal(b))

	c := activatedBinding("user:alice@example.org")
	c.Members = []string{"user:alice@example.org"}
	d := activatedBinding("user:alice@example.org")
	d.Condition.Description = "different"
	assert.False(t, c.Equal(d))

	e := activatedBinding("user:alice@example.org")
	e.Condition = nil
	assert.False(t, a.Equal(e))
}
