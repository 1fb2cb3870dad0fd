package condition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

func TestValidatorAcceptsWindowExpression(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	expr := NewTemporaryExpression(resources.TimeSpan{Start: start, End: start.Add(time.Hour)}, "")
	assert.NoError(t, v.Check(expr))

	// Cache hit takes the same path.
	assert.NoError(t, v.Check(expr))
}

func TestValidatorRejectsBrokenExpression(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	assert.Error(t, v.Check(`request.time >= timestamp(`))
	assert.Error(t, v.Check(`&& true`))
}
