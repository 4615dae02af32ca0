package nerr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindFromCode_RoundTrips(t *testing.T) {
	for kind, code := range codes {
		got, ok := KindFromCode(code)
		require.True(t, ok)
		require.Equal(t, kind, got)
	}
}

func TestKindFromCode_UnknownCode(t *testing.T) {
	kind, ok := KindFromCode(-99999)
	require.False(t, ok)
	require.Equal(t, KindHandlerError, kind)
}

func TestError_Code(t *testing.T) {
	err := New(KindChildClosed, "child exited")
	require.Equal(t, 1031, err.Code())
}
