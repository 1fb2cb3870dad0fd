package condition

import (
	"regexp"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
)

// ActivationKind enumerates how an eligible binding can be activated.
type ActivationKind int

const (
	// NoActivation marks an active binding whose eligibility has been
	// revoked; it can no longer be re-activated.
	NoActivation ActivationKind = iota
	// SelfApproval activates with a justification only.
	SelfApproval
	// PeerApproval requires approval by a peer holding the same eligibility.
	PeerApproval
	// ExternalApproval requires approval by a holder of the paired
	// reviewer privilege.
	ExternalApproval
)

// String returns the canonical name of the kind.
func (k ActivationKind) String() string {
	switch k {
	case SelfApproval:
		return "SELF_APPROVAL"
	case PeerApproval:
		return "PEER_APPROVAL"
	case ExternalApproval:
		return "EXTERNAL_APPROVAL"
	default:
		return "NO_ACTIVATION"
	}
}

var topicPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9\-_]*$`)

// ActivationType is the tagged activation variant, optionally scoped by a
// topic that partitions reviewers into disjoint pools.
type ActivationType struct {
	Kind  ActivationKind
	Topic string
}

// NewActivationType validates the topic and creates an ActivationType.
// Topics are only meaningful for the peer- and external-approval families.
func NewActivationType(kind ActivationKind, topic string) (ActivationType, error) {
	if topic != "" {
		if kind != PeerApproval && kind != ExternalApproval {
			return ActivationType{}, apperr.New(apperr.InvalidArgument, "activation type %s does not accept a topic", kind)
		}
		if len(topic) > 63 || !topicPattern.MatchString(topic) {
			return ActivationType{}, apperr.New(apperr.InvalidArgument, "invalid topic %q", topic)
		}
	}
	return ActivationType{Kind: kind, Topic: topic}, nil
}

// String formats the type, including the topic when present.
func (t ActivationType) String() string {
	if t.Topic != "" {
		return t.Kind.String() + "." + t.Topic
	}
	return t.Kind.String()
}

// Covers reports whether t is a parent of child. A topic-less peer or
// external type covers every topic within its family; a topic-carrying type
// covers only the identical topic. Self-approval covers self-approval.
// NoActivation covers nothing.
func (t ActivationType) Covers(child ActivationType) bool {
	if t.Kind == NoActivation || child.Kind == NoActivation {
		return false
	}
	if t.Kind != child.Kind {
		return false
	}
	if t.Topic == "" {
		return true
	}
	return t.Topic == child.Topic
}
