package probe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var ErrMalformedRelease = errors.New("malformed kernel release")

// KernelVersion is a kernel version packed the same way as the kernel's
// KERNEL_VERSION macro, so that versions compare as plain integers.
type KernelVersion uint32

// CurrentShapeMinVersion is the first kernel version whose inet_sock_set_state
// tracepoint uses the current argument layout.
// Some distributions backport tracepoint changes; a kernel doing so with an
// older version number would be decoded with the wrong layout.
var CurrentShapeMinVersion = NewKernelVersion(5, 6, 0)

// NewKernelVersion packs a version. The patch level saturates at 255, as it
// does in the kernel. The minor version must fit in a byte and the major
// version in 16 bits; ParseKernelRelease rejects releases where they don't.
func NewKernelVersion(major, minor, patch uint32) KernelVersion {
	if patch > 255 {
		patch = 255
	}

	return KernelVersion(major<<16 | (minor&0xFF)<<8 | patch)
}

func (v KernelVersion) Major() uint32 { return uint32(v) >> 16 }
func (v KernelVersion) Minor() uint32 { return (uint32(v) >> 8) & 0xFF }
func (v KernelVersion) Patch() uint32 { return uint32(v) & 0xFF }

func (v KernelVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}

const (
	maxMajor = 0xFFFF
	maxMinor = 0xFF
)

// ParseKernelRelease parses a release string as reported by uname(2),
// for example "5.15.0-91-generic" or "6.1". Anything after the numeric
// version is ignored.
func ParseKernelRelease(release string) (KernelVersion, error) {
	end := strings.IndexFunc(release, func(r rune) bool {
		return r != '.' && (r < '0' || r > '9')
	})
	if end != -1 {
		release = release[:end]
	}

	parts := strings.Split(strings.TrimSuffix(release, "."), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedRelease, release)
	}

	var nums [3]uint32
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrMalformedRelease, release, err)
		}
		nums[i] = uint32(n)
	}

	if nums[0] > maxMajor || nums[1] > maxMinor {
		return 0, fmt.Errorf("%w: %q: version out of range", ErrMalformedRelease, release)
	}

	return NewKernelVersion(nums[0], nums[1], nums[2]), nil
}

// HostKernelVersion returns the version of the running kernel.
func HostKernelVersion() (KernelVersion, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return 0, fmt.Errorf("getting kernel release: %w", err)
	}

	return ParseKernelRelease(unix.ByteSliceToString(uts.Release[:]))
}
