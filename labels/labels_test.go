package labels

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidate tests validation of labels.
func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		label string
		err   error
	}{
		{
			name:  "label ok",
			label: "label",
			err:   nil,
		},
		{
			name:  "exceeds limit",
			label: strings.Repeat(" ", MaxLength+1),
			err:   ErrLabelTooLong,
		},
		{
			name:  "exactly reserved prefix",
			label: Reserved,
			err:   ErrReservedPrefix,
		},
		{
			name:  "starts with reserved prefix",
			label: fmt.Sprintf("%v test", Reserved),
			err:   ErrReservedPrefix,
		},
		{
			name:  "ends with reserved prefix",
			label: fmt.Sprintf("test %v", Reserved),
			err:   nil,
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, test.err, Validate(test.label))
		})
	}
}

func TestLabelString(t *testing.T) {
	require.Equal(t, "regular", LabelRegular.String())
	require.Equal(t, "swap", LabelSwap.String())
	require.Equal(t, "contract", LabelContract.String())
	require.Equal(t, "fidelity", LabelFidelity.String())
	require.Equal(t, "unknown", LabelUnknown.String())
	require.Equal(t, "unknown", Label(99).String())
}

func TestCommentBuilders(t *testing.T) {
	comment := ContractComment("session-1")
	require.True(t, strings.HasPrefix(comment, Reserved))
	require.NoError(t, Validate("plain user memo"))
	require.Error(t, Validate(comment))
}
