package condition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

func TestParseEligibilitySelf(t *testing.T) {
	marker, ok := ParseEligibility("has({}.jitAccessConstraint)")
	require.True(t, ok)
	assert.Equal(t, SelfApproval, marker.Type.Kind)
	assert.Empty(t, marker.Type.Topic)
	assert.Empty(t, marker.ResourceCondition)
}

func TestParseEligibilityNormalization(t *testing.T) {
	for _, expr := range []string{
		"HAS({}.JITACCESSCONSTRAINT)",
		"  has ( {} . jitAccessConstraint )  ",
		"has({}\n.jitaccessconstraint)",
	} {
		marker, ok := ParseEligibility(expr)
		require.True(t, ok, "expression %q", expr)
		assert.Equal(t, SelfApproval, marker.Type.Kind)
	}
}

func TestParseEligibilityPeerWithTopic(t *testing.T) {
	marker, ok := ParseEligibility("has({}.multiPartyApprovalConstraint.oncall)")
	require.True(t, ok)
	assert.Equal(t, PeerApproval, marker.Type.Kind)
	assert.Equal(t, "oncall", marker.Type.Topic)
}

func TestParseEligibilityExternal(t *testing.T) {
	marker, ok := ParseEligibility("has({}.externalApprovalConstraint.billing)")
	require.True(t, ok)
	assert.Equal(t, ExternalApproval, marker.Type.Kind)
	assert.Equal(t, "billing", marker.Type.Topic)
}

func TestParseEligibilitySelfRejectsTopic(t *testing.T) {
	_, ok := ParseEligibility("has({}.jitAccessConstraint.oncall)")
	assert.False(t, ok)
}

func TestParseEligibilityRejectsReviewerMarker(t *testing.T) {
	_, ok := ParseEligibility("has({}.reviewerPrivilege)")
	assert.False(t, ok)
}

func TestParseEligibilityPreservesResourceCondition(t *testing.T) {
	expr := `has({}.jitAccessConstraint) && resource.name.startsWith("projects/p1/buckets/B")`
	marker, ok := ParseEligibility(expr)
	require.True(t, ok)
	assert.Equal(t, `resource.name.startsWith("projects/p1/buckets/B")`, marker.ResourceCondition)
}

func TestParseEligibilityRejectsUnrelated(t *testing.T) {
	for _, expr := range []string{
		"",
		"true",
		"request.time < timestamp(\"2026-01-01T00:00:00Z\")",
		"has({}.somethingElse)",
		"resource.name == 'x' && has({}.jitAccessConstraint)",
	} {
		_, ok := ParseEligibility(expr)
		assert.False(t, ok, "expression %q", expr)
	}
}

func TestParseReviewerPrivilege(t *testing.T) {
	marker, ok := ParseReviewerPrivilege("has({}.reviewerPrivilege.billing)")
	require.True(t, ok)
	assert.Equal(t, "billing", marker.Topic)

	_, ok = ParseReviewerPrivilege("has({}.multiPartyApprovalConstraint)")
	assert.False(t, ok)
}

func TestTemporaryExpressionRoundTrip(t *testing.T) {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	span := resources.TimeSpan{Start: start, End: start.Add(30 * time.Minute)}

	expr := NewTemporaryExpression(span, "")
	window, ok := ParseTemporaryWindow(expr)
	require.True(t, ok)
	assert.True(t, window.Span.Start.Equal(span.Start))
	assert.True(t, window.Span.End.Equal(span.End))
	assert.Empty(t, window.ResourceCondition)
}

func TestTemporaryExpressionPreservesResourceCondition(t *testing.T) {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	span := resources.TimeSpan{Start: start, End: start.Add(time.Hour)}
	rc := `resource.name.startsWith("projects/p1/topics/T")`

	expr := NewTemporaryExpression(span, rc)
	window, ok := ParseTemporaryWindow(expr)
	require.True(t, ok)
	assert.Equal(t, rc, window.ResourceCondition)
}

func TestWindowBoundaries(t *testing.T) {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	expr := NewTemporaryExpression(resources.TimeSpan{Start: start, End: end}, "")

	assert.False(t, EvaluateTemporary(expr, start.Add(-time.Second)))
	assert.True(t, EvaluateTemporary(expr, start), "start is inclusive")
	assert.True(t, EvaluateTemporary(expr, end.Add(-time.Second)))
	assert.False(t, EvaluateTemporary(expr, end), "end is exclusive")
}

func TestEvaluateTemporaryMalformed(t *testing.T) {
	now := time.Now()
	for _, expr := range []string{
		"",
		"true",
		`request.time >= timestamp("not-a-time") && request.time < timestamp("2026-01-01T00:00:00Z")`,
		`request.time >= timestamp("2026-01-02T00:00:00Z") && request.time < timestamp("2026-01-01T00:00:00Z")`,
	} {
		assert.False(t, EvaluateTemporary(expr, now), "expression %q", expr)
	}
}

func TestIsActivatedRequiresExactTitle(t *testing.T) {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	expr := NewTemporaryExpression(resources.TimeSpan{Start: start, End: start.Add(time.Hour)}, "")

	assert.True(t, IsActivated(&Expr{Title: ActivationTitle, Expression: expr}))
	assert.False(t, IsActivated(&Expr{Title: "jit access activation", Expression: expr}))
	assert.False(t, IsActivated(&Expr{Title: ActivationTitle, Expression: "true"}))
	assert.False(t, IsActivated(nil))
}

func TestIsTemporaryIgnoresTitle(t *testing.T) {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	expr := NewTemporaryExpression(resources.TimeSpan{Start: start, End: start.Add(time.Hour)}, "")

	assert.True(t, IsTemporary(&Expr{Title: "something else", Expression: expr}))
	assert.False(t, IsTemporary(&Expr{Expression: "true"}))
}
