package activation

import (
	"regexp"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

// Defaults for the justification policy.
const (
	DefaultJustificationPattern = ".*"
	DefaultJustificationHint    = "Bug or case number"
)

// JustificationPolicy validates the free-text justification of a request
// against a configured pattern, and carries the human hint surfaced when
// validation fails.
type JustificationPolicy struct {
	pattern *regexp.Regexp
	hint    string
}

// NewJustificationPolicy compiles pattern. Empty arguments fall back to the
// defaults.
func NewJustificationPolicy(pattern, hint string) (JustificationPolicy, error) {
	if pattern == "" {
		pattern = DefaultJustificationPattern
	}
	if hint == "" {
		hint = DefaultJustificationHint
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return JustificationPolicy{}, apperr.Wrap(apperr.InvalidArgument, err, "invalid justification pattern")
	}
	return JustificationPolicy{pattern: re, hint: hint}, nil
}

// Hint returns the human hint for the expected justification format.
func (p JustificationPolicy) Hint() string { return p.hint }

// Validate checks justification against the pattern.
func (p JustificationPolicy) Validate(justification string, user resources.UserEmail) error {
	_ = user
	if p.pattern == nil || p.pattern.MatchString(justification) {
		return nil
	}
	return apperr.New(apperr.InvalidArgument,
		"justification does not meet the policy: %s", p.hint)
}
