package perfevent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPUList(t *testing.T) {
	tests := []struct {
		list     string
		expected []int
	}{
		{"0", []int{0}},
		{"0-3", []int{0, 1, 2, 3}},
		{"0-1,4,6-7", []int{0, 1, 4, 6, 7}},
	}

	for _, test := range tests {
		cpus, err := parseCPUList(test.list)
		require.NoError(t, err, test.list)
		assert.Equal(t, test.expected, cpus, test.list)
	}
}

func TestParseCPUListError(t *testing.T) {
	for _, list := range []string{"", "a", "0-", "3-1", "0,,1"} {
		_, err := parseCPUList(list)
		assert.Error(t, err, list)
	}
}

func TestTracepointID(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "events", "sock", "inet_sock_set_state")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "id"), []byte("1445\n"), 0o644))

	id, err := TracepointID(root, "sock", "inet_sock_set_state")
	require.NoError(t, err)
	assert.Equal(t, uint64(1445), id)
}

func TestTracepointIDNotFound(t *testing.T) {
	_, err := TracepointID(t.TempDir(), "nosuchgroup", "nosuchtracepoint")
	assert.ErrorIs(t, err, ErrTracepointNotFound)
}
