package perfevent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrTracepointNotFound = errors.New("tracepoint not found in tracefs")

// DefaultTracefsPaths are tried in order when no tracefs mount is given.
var DefaultTracefsPaths = []string{"/sys/kernel/tracing", "/sys/kernel/debug/tracing"}

// TracepointID returns the perf id of group:name, looking under root first
// and then under the default tracefs mounts.
func TracepointID(root, group, name string) (uint64, error) {
	roots := DefaultTracefsPaths
	if root != "" {
		roots = append([]string{root}, roots...)
	}

	for _, r := range roots {
		data, err := os.ReadFile(filepath.Join(r, "events", group, name, "id"))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("reading tracepoint id: %w", err)
		}

		id, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing tracepoint id: %w", err)
		}

		return id, nil
	}

	return 0, fmt.Errorf("%w: %s:%s", ErrTracepointNotFound, group, name)
}
