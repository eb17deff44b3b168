package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKernelRelease(t *testing.T) {
	tests := []struct {
		release  string
		expected KernelVersion
	}{
		{"5.15.0-91-generic", NewKernelVersion(5, 15, 0)},
		{"5.4.0", NewKernelVersion(5, 4, 0)},
		{"6.1", NewKernelVersion(6, 1, 0)},
		{"5.6.0-rc1", NewKernelVersion(5, 6, 0)},
		{"4.19.300", NewKernelVersion(4, 19, 255)},
		{"6.8.0+", NewKernelVersion(6, 8, 0)},
		{"5.255.0", NewKernelVersion(5, 255, 0)},
	}

	for _, test := range tests {
		version, err := ParseKernelRelease(test.release)
		require.NoError(t, err, test.release)
		assert.Equal(t, test.expected, version, test.release)
	}
}

func TestParseKernelReleaseError(t *testing.T) {
	for _, release := range []string{"", "5", "linux", "5..1", "1.2.3.4", "5.256.0", "65536.0"} {
		_, err := ParseKernelRelease(release)
		assert.ErrorIs(t, err, ErrMalformedRelease, release)
	}
}

// A minor version that does not fit its byte must not wrap onto an older kernel.
func TestParseKernelReleaseMinorOutOfRange(t *testing.T) {
	version, err := ParseKernelRelease("5.256.0")
	require.ErrorIs(t, err, ErrMalformedRelease)
	assert.Zero(t, version)
}

func TestKernelVersionPacking(t *testing.T) {
	v := NewKernelVersion(5, 6, 0)

	assert.Equal(t, KernelVersion(0x050600), v)
	assert.Equal(t, "5.6.0", v.String())
	assert.Equal(t, uint32(5), v.Major())
	assert.Equal(t, uint32(6), v.Minor())
	assert.Zero(t, v.Patch())
	assert.True(t, NewKernelVersion(5, 5, 1000) < v)
}
