package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivateSwapsPair(t *testing.T) {
	s := NewSet(NotActive, CanRename)
	require.True(t, s.ActivationPairValid())
	require.False(t, s.IsActive())

	s.Activate()

	assert.True(t, s.IsActive())
	assert.False(t, s.Has(NotActive))
	assert.True(t, s.Has(CanRename))
	assert.True(t, s.ActivationPairValid())
}

func TestActivateIdempotent(t *testing.T) {
	s := NewSet(NotActive)
	s.Activate()
	before := s.Strings()
	s.Activate()
	assert.Equal(t, before, s.Strings())
}

func TestActivationPairValid(t *testing.T) {
	assert.False(t, NewSet().ActivationPairValid())
	assert.False(t, NewSet(Active, NotActive).ActivationPairValid())
	assert.True(t, NewSet(Active).ActivationPairValid())
	assert.True(t, NewSet(NotActive, CanRename).ActivationPairValid())
}

func TestFromStringsRejectsUnknown(t *testing.T) {
	_, err := FromStrings([]string{"ACTIVE", "ROLE_ADMIN"})
	require.Error(t, err)

	s, err := FromStrings([]string{"NOT_ACTIVE", "CAN_RENAME"})
	require.NoError(t, err)
	assert.True(t, s.Has(NotActive))
	assert.True(t, s.Has(CanRename))
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewSet(NotActive)
	c := s.Clone()
	c.Activate()

	assert.False(t, s.IsActive())
	assert.True(t, c.IsActive())
}

func TestStringsStableOrder(t *testing.T) {
	s := NewSet(NotActive, CanRename)
	assert.Equal(t, []string{"CAN_RENAME", "NOT_ACTIVE"}, s.Strings())
}
