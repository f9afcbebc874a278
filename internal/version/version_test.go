package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInfoDefaults(t *testing.T) {
	v, c, d := Info()
	require.NotEmpty(t, v)
	require.NotEmpty(t, c)
	require.NotEmpty(t, d)

	require.Equal(t, v, GetVersion())
	require.Equal(t, c, GetCommit())
	require.Equal(t, d, GetDate())
}

func TestStringContainsBuildInfo(t *testing.T) {
	s := String()
	for _, part := range []string{"stockledger", "version=", "commit=", "date="} {
		if !strings.Contains(s, part) {
			t.Fatalf("String() = %q, want it to contain %q", s, part)
		}
	}
}
