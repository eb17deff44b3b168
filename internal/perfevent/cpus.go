package perfevent

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const onlineCPUsPath = "/sys/devices/system/cpu/online"

// OnlineCPUs lists the CPUs currently online.
func OnlineCPUs() ([]int, error) {
	data, err := os.ReadFile(onlineCPUsPath)
	if err != nil {
		return nil, fmt.Errorf("reading online CPUs: %w", err)
	}

	return parseCPUList(strings.TrimSpace(string(data)))
}

// parseCPUList parses the kernel's CPU list format, e.g. "0-3,6,8-9".
func parseCPUList(list string) ([]int, error) {
	var cpus []int

	for _, span := range strings.Split(list, ",") {
		from, to, isRange := strings.Cut(span, "-")

		first, err := strconv.Atoi(from)
		if err != nil {
			return nil, fmt.Errorf("parsing CPU list %q: %w", list, err)
		}

		last := first
		if isRange {
			if last, err = strconv.Atoi(to); err != nil {
				return nil, fmt.Errorf("parsing CPU list %q: %w", list, err)
			}
		}
		if last < first {
			return nil, fmt.Errorf("parsing CPU list %q: descending range %q", list, span)
		}

		for cpu := first; cpu <= last; cpu++ {
			cpus = append(cpus, cpu)
		}
	}

	return cpus, nil
}
