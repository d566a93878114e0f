package contract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHopTimelockDecreasesTowardLastHop(t *testing.T) {
	const (
		base     = int64(100)
		hopCount = 4
		gap      = int64(24)
	)

	timelocks := make([]int64, hopCount)
	for i := 1; i <= hopCount; i++ {
		tl, err := HopTimelock(base, hopCount, i, gap)
		require.NoError(t, err)
		timelocks[i-1] = tl
	}

	// Hop 1 (Taker-adjacent) has the largest timelock; the last hop has
	// exactly the base.
	require.Equal(t, base+int64(hopCount-1)*gap, timelocks[0])
	require.Equal(t, base, timelocks[hopCount-1])

	for i := 1; i < len(timelocks); i++ {
		require.Greater(t, timelocks[i-1], timelocks[i])
	}
}

func TestHopTimelockRejectsSmallGap(t *testing.T) {
	_, err := HopTimelock(100, 3, 1, MinTimelockGap-1)
	require.Error(t, err)
}

func TestVerifyTimelockDiscipline(t *testing.T) {
	good := []int64{172, 148, 124, 100}
	require.NoError(t, VerifyTimelockDiscipline(good, 24, 90))

	tooTight := []int64{110, 100}
	require.Error(t, VerifyTimelockDiscipline(tooTight, 24, 90))

	belowMin := []int64{172, 148, 124, 80}
	require.Error(t, VerifyTimelockDiscipline(belowMin, 24, 90))
}
