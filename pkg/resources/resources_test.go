package resources

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProjectID(t *testing.T) {
	p, err := NewProjectID("my-project")
	require.NoError(t, err)
	assert.Equal(t, "my-project", p.ID)
	assert.Equal(t, "projects/my-project", p.Path())

	p, err = NewProjectID("projects/my-project")
	require.NoError(t, err)
	assert.Equal(t, "my-project", p.ID)

	_, err = NewProjectID("")
	assert.Error(t, err)
	_, err = NewProjectID("projects/")
	assert.Error(t, err)
}

func TestParseProjectFullResourceName(t *testing.T) {
	p, ok := ParseProjectFullResourceName("//cloudresourcemanager.googleapis.com/projects/p1")
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)

	for _, name := range []string{
		"",
		"projects/p1",
		"//cloudresourcemanager.googleapis.com/projects/",
		"//cloudresourcemanager.googleapis.com/projects/p1/extra",
		"//compute.googleapis.com/projects/p1",
	} {
		_, ok := ParseProjectFullResourceName(name)
		assert.False(t, ok, "name %q", name)
	}
}

func TestFullResourceNameRoundTrip(t *testing.T) {
	p := ProjectID{ID: "p1"}
	parsed, ok := ParseProjectFullResourceName(p.FullResourceName())
	require.True(t, ok)
	assert.Equal(t, p, parsed)
}

func TestNewUserEmailNormalization(t *testing.T) {
	u, err := NewUserEmail("  Alice@Example.ORG ")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", u.Email)
	assert.Equal(t, "user:alice@example.org", u.IAMMember())

	for _, email := range []string{"", "alice", "@example.org", "alice@"} {
		_, err := NewUserEmail(email)
		assert.Error(t, err, "email %q", email)
	}
}

func TestProjectRoleID(t *testing.T) {
	r := NewProjectRole(ProjectID{ID: "p1"}, "roles/compute.viewer")
	assert.Equal(t, "projects/p1:roles/compute.viewer", r.ID())

	parsed, err := ParseProjectRoleID(r.ID())
	require.NoError(t, err)
	assert.Equal(t, r, parsed)

	for _, s := range []string{"", "projects/p1", "projects/:roles/x", "projects/p1:"} {
		_, err := ParseProjectRoleID(s)
		assert.Error(t, err, "id %q", s)
	}
}

func TestProjectRoleIDRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	identifier := gen.RegexMatch(`[a-z][a-z0-9\-]{0,20}`)
	role := gen.RegexMatch(`roles/[a-z]{1,10}\.[a-z]{1,10}`)

	properties.Property("parse inverts ID", prop.ForAll(
		func(project, roleName string) bool {
			original := NewProjectRole(ProjectID{ID: project}, roleName)
			parsed, err := ParseProjectRoleID(original.ID())
			return err == nil && parsed == original
		},
		identifier, role,
	))

	properties.TestingRun(t)
}

func TestTimeSpan(t *testing.T) {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	span, err := NewTimeSpan(start, end)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, span.Duration())
	assert.True(t, span.IsValid(start))
	assert.True(t, span.IsValid(end))
	assert.False(t, span.IsValid(end.Add(time.Second)))

	_, err = NewTimeSpan(end, start)
	assert.Error(t, err)
}

func TestSorting(t *testing.T) {
	ids := SortProjectIDs([]ProjectID{{ID: "b"}, {ID: "a"}})
	assert.Equal(t, []ProjectID{{ID: "a"}, {ID: "b"}}, ids)

	users := SortUserEmails([]UserEmail{{Email: "b@x.org"}, {Email: "a@x.org"}})
	assert.Equal(t, []UserEmail{{Email: "a@x.org"}, {Email: "b@x.org"}}, users)
}
