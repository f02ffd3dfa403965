package platform

import (
	"os"
	"strconv"
	"strings"
)

// MemoryLimit returns the container memory limit in bytes read from
// the cgroup filesystem, trying cgroup v2 first and falling back to
// v1. Returns 0 (with a nil error) when no limit is detected —
// unlimited or non-containerized environments.
func MemoryLimit() (int64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			return strconv.ParseInt(limitStr, 10, 64)
		}
		return 0, nil
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	}

	return 0, nil
}

// Per-session memory estimate used by MaxSessions: a send-side slot
// reservation, a receive reassembly buffer, and counter/struct
// overhead — see the teacher's calculateMaxConnections for the
// original per-connection breakdown this is adapted from.
const bytesPerSession = 180 * 1024

const runtimeOverheadBytes = 128 * 1024 * 1024

// MaxSessions derives a safe session-pool capacity from a detected
// memory limit (0 meaning unlimited), bounded to [100, 50000].
func MaxSessions(memoryLimitBytes int64) int {
	if memoryLimitBytes == 0 {
		return 10000
	}

	available := memoryLimitBytes - runtimeOverheadBytes
	if available < 0 {
		available = memoryLimitBytes / 2
	}

	sessions := int(available / bytesPerSession)
	if sessions < 100 {
		sessions = 100
	}
	if sessions > 50000 {
		sessions = 50000
	}
	return sessions
}
