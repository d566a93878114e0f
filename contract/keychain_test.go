package contract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTweakRoundTrip(t *testing.T) {
	baseKey := randKey(t)

	tweak, err := NewTweak()
	require.NoError(t, err)

	hashlockPubKey := TweakPubKey(baseKey.PubKey(), tweak)
	hashlockPrivKey := TweakPrivKey(baseKey, tweak)

	require.True(t, hashlockPrivKey.PubKey().IsEqual(hashlockPubKey))

	require.NoError(t, VerifyTweak(baseKey.PubKey(), hashlockPubKey, tweak))
}

func TestVerifyTweakRejectsWrongScalar(t *testing.T) {
	baseKey := randKey(t)

	tweak, err := NewTweak()
	require.NoError(t, err)
	otherTweak, err := NewTweak()
	require.NoError(t, err)

	hashlockPubKey := TweakPubKey(baseKey.PubKey(), tweak)

	err = VerifyTweak(baseKey.PubKey(), hashlockPubKey, otherTweak)
	require.Error(t, err)
}
