// Package condition recognizes, parses, and emits the three classes of IAM
// condition expressions the service works with: eligibility markers,
// temporary-access windows, and reviewer privileges.
//
// Recognition normalizes expressions by case folding and whitespace
// stripping before matching. This can falsely match a marker embedded in a
// CEL string literal; the trade-off is accepted because markers are written
// by this service and by administrators following its conventions.
package condition

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

// ActivationTitle is the exact condition title that marks a binding as a
// JIT activation. A condition is recognized as activated only when its title
// equals this literal and its expression parses as a temporary window.
const ActivationTitle = "JIT access activation"

const (
	selfMarker     = "jitaccessconstraint"
	peerMarker     = "multipartyapprovalconstraint"
	externalMarker = "externalapprovalconstraint"
	reviewerMarker = "reviewerprivilege"
)

// markerExpr matches a has({}.<constraint>[.<topic>]) clause, optionally
// followed by an &&-joined resource condition, after normalization has
// removed whitespace and folded case. The trailing condition is captured
// from the original expression separately.
var markerExpr = regexp.MustCompile(
	`^has\(\{\}\.(` + selfMarker + `|` + peerMarker + `|` + externalMarker + `|` + reviewerMarker + `)` +
		`(\.[a-z][a-z0-9\-_]*)?\)(&&.+)?$`)

// originalTail captures the resource condition trailing the marker clause in
// the original, un-normalized expression.
var originalTail = regexp.MustCompile(`(?is)^\s*has\s*\(\s*\{\s*\}\s*\.\s*[a-z0-9\-_.]+\s*\)\s*(?:&&(.+))?$`)

// topicOf extracts the topic suffix from a normalized marker name.
var topicOf = regexp.MustCompile(`\.([a-z][a-z0-9\-_]*)$`)

// normalize folds case and strips all whitespace.
func normalize(expr string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(expr) {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EligibilityMarker is a recognized requester-side eligibility clause.
type EligibilityMarker struct {
	// Type is the activation family the marker grants, including the topic.
	Type ActivationType
	// ResourceCondition is the preserved &&-joined sub-expression trailing
	// the marker, empty when the marker stands alone. It is re-emitted
	// verbatim behind the temporary window on activation.
	ResourceCondition string
}

// ReviewerMarker is a recognized reviewer-privilege clause.
type ReviewerMarker struct {
	// Topic scopes the reviewer pool; empty reviews every topic.
	Topic string
	// ResourceCondition is the preserved trailing sub-expression.
	ResourceCondition string
}

// ParseEligibility recognizes a requester-side eligibility marker. The
// reviewer marker is not an eligibility and is rejected here.
func ParseEligibility(expr string) (EligibilityMarker, bool) {
	name, topic, ok := parseMarker(expr)
	if !ok || name == reviewerMarker {
		return EligibilityMarker{}, false
	}
	var kind ActivationKind
	switch name {
	case selfMarker:
		if topic != "" {
			return EligibilityMarker{}, false
		}
		kind = SelfApproval
	case peerMarker:
		kind = PeerApproval
	case externalMarker:
		kind = ExternalApproval
	}
	t, err := NewActivationType(kind, topic)
	if err != nil {
		return EligibilityMarker{}, false
	}
	return EligibilityMarker{Type: t, ResourceCondition: trailingCondition(expr)}, true
}

// ParseReviewerPrivilege recognizes a reviewer-privilege marker.
func ParseReviewerPrivilege(expr string) (ReviewerMarker, bool) {
	name, topic, ok := parseMarker(expr)
	if !ok || name != reviewerMarker {
		return ReviewerMarker{}, false
	}
	return ReviewerMarker{Topic: topic, ResourceCondition: trailingCondition(expr)}, true
}

// parseMarker returns the normalized constraint name and topic.
func parseMarker(expr string) (name, topic string, ok bool) {
	m := markerExpr.FindStringSubmatch(normalize(expr))
	if m == nil {
		return "", "", false
	}
	name = m[1]
	if m[2] != "" {
		if t := topicOf.FindStringSubmatch(m[2]); t != nil {
			topic = t[1]
		}
	}
	return name, topic, true
}

// trailingCondition extracts the original-text resource condition that
// follows the marker clause, preserving its casing and spacing.
func trailingCondition(expr string) string {
	m := originalTail.FindStringSubmatch(expr)
	if m == nil || m[1] == "" {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// windowExpr matches a temporary-access window, optionally followed by a
// preserved resource condition.
var windowExpr = regexp.MustCompile(
	`(?is)^\s*request\.time\s*>=\s*timestamp\s*\(\s*"([^"]+)"\s*\)\s*&&\s*` +
		`request\.time\s*<\s*timestamp\s*\(\s*"([^"]+)"\s*\)\s*(?:&&(.+))?$`)

// TemporaryWindow is a parsed temporary-access expression. The granted
// interval is [Span.Start, Span.End).
type TemporaryWindow struct {
	Span resources.TimeSpan
	// ResourceCondition is the preserved sub-expression behind the window.
	ResourceCondition string
}

// ParseTemporaryWindow parses a temporary-access window expression.
// Malformed timestamps yield ok == false rather than an error: evaluation
// failures must read as "no access".
func ParseTemporaryWindow(expr string) (TemporaryWindow, bool) {
	m := windowExpr.FindStringSubmatch(expr)
	if m == nil {
		return TemporaryWindow{}, false
	}
	start, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return TemporaryWindow{}, false
	}
	end, err := time.Parse(time.RFC3339, m[2])
	if err != nil || end.Before(start) {
		return TemporaryWindow{}, false
	}
	w := TemporaryWindow{Span: resources.TimeSpan{Start: start, End: end}}
	if m[3] != "" {
		w.ResourceCondition = strings.TrimSpace(m[3])
	}
	return w, true
}

// IsValid evaluates the window against now: start <= now < end.
func (w TemporaryWindow) IsValid(now time.Time) bool {
	return !now.Before(w.Span.Start) && now.Before(w.Span.End)
}

// EvaluateTemporary evaluates expr as a temporary window against now.
// Unrecognized or malformed expressions evaluate to false.
func EvaluateTemporary(expr string, now time.Time) bool {
	w, ok := ParseTemporaryWindow(expr)
	return ok && w.IsValid(now)
}

// NewTemporaryExpression emits the canonical temporary-access expression for
// span, appending the preserved resource condition when present.
func NewTemporaryExpression(span resources.TimeSpan, resourceCondition string) string {
	expr := fmt.Sprintf(
		`request.time >= timestamp("%s") && request.time < timestamp("%s")`,
		span.Start.UTC().Format(time.RFC3339),
		span.End.UTC().Format(time.RFC3339),
	)
	if resourceCondition != "" {
		expr += " && " + resourceCondition
	}
	return expr
}

// Expr is an IAM condition attached to a binding.
type Expr struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression,omitempty"`
}

// IsActivated reports whether the condition marks a JIT activation: the
// title equals ActivationTitle and the expression parses as a temporary
// window.
func IsActivated(c *Expr) bool {
	if c == nil || c.Title != ActivationTitle {
		return false
	}
	_, ok := ParseTemporaryWindow(c.Expression)
	return ok
}

// IsTemporary reports whether the condition expression parses as a
// temporary window regardless of title. Purging keys on this.
func IsTemporary(c *Expr) bool {
	if c == nil {
		return false
	}
	_, ok := ParseTemporaryWindow(c.Expression)
	return ok
}
