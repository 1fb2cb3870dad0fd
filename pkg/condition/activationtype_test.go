package condition

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewActivationTypeTopicValidation(t *testing.T) {
	_, err := NewActivationType(PeerApproval, "oncall")
	require.NoError(t, err)

	_, err = NewActivationType(SelfApproval, "oncall")
	assert.Error(t, err, "self-approval accepts no topic")

	_, err = NewActivationType(PeerApproval, "9starts-with-digit")
	assert.Error(t, err)

	_, err = NewActivationType(PeerApproval, strings.Repeat("a", 64))
	assert.Error(t, err)

	_, err = NewActivationType(PeerApproval, strings.Repeat("a", 63))
	assert.NoError(t, err)
}

func TestCovers(t *testing.T) {
	parent := ActivationType{Kind: PeerApproval}
	topical := ActivationType{Kind: PeerApproval, Topic: "oncall"}
	other := ActivationType{Kind: PeerApproval, Topic: "billing"}

	assert.True(t, parent.Covers(topical), "topic-less parent covers any topic")
	assert.True(t, parent.Covers(parent))
	assert.True(t, topical.Covers(topical))
	assert.False(t, topical.Covers(other))
	assert.False(t, topical.Covers(parent), "topic-carrying type does not cover the bare parent")

	assert.False(t, parent.Covers(ActivationType{Kind: ExternalApproval}))
	assert.False(t, ActivationType{Kind: NoActivation}.Covers(parent))
	assert.False(t, parent.Covers(ActivationType{Kind: NoActivation}))
}

func TestActivationTypeString(t *testing.T) {
	assert.Equal(t, "SELF_APPROVAL", ActivationType{Kind: SelfApproval}.String())
	assert.Equal(t, "PEER_APPROVAL.oncall", ActivationType{Kind: PeerApproval, Topic: "oncall"}.String())
}
