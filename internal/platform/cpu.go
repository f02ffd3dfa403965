// Package platform detects container resource constraints (CPU quota
// and memory limit) so the sample binaries can size slot pools and
// worker counts to what the runtime environment actually allows,
// rather than the host machine's full capacity.
package platform

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// ContainerCPU measures CPU usage relative to a container's cgroup
// quota by reading cgroup accounting files directly.
type ContainerCPU struct {
	mu               sync.RWMutex
	lastCPUUsec      uint64
	lastSampleTime   time.Time
	cgroupVersion    int
	cgroupPath       string
	cpuQuota         int64
	cpuPeriod        int64
	numCPUsAllocated float64
	lastThrottle     ThrottleStats
}

// ThrottleStats reports cgroup CFS throttling counters.
type ThrottleStats struct {
	NrPeriods    uint64
	NrThrottled  uint64
	ThrottledSec float64
}

// NewContainerCPU detects the process's cgroup and its CPU quota.
func NewContainerCPU() (*ContainerCPU, error) {
	cc := &ContainerCPU{lastSampleTime: time.Now()}

	cgroupPath, version, err := detectCgroupPath()
	if err != nil {
		return nil, fmt.Errorf("platform: detect cgroup: %w", err)
	}
	cc.cgroupPath = cgroupPath
	cc.cgroupVersion = version

	quota, period, err := readCPUQuota(cgroupPath, version)
	if err != nil {
		return nil, fmt.Errorf("platform: read cpu quota: %w", err)
	}
	cc.cpuQuota = quota
	cc.cpuPeriod = period

	if quota > 0 && period > 0 {
		cc.numCPUsAllocated = float64(quota) / float64(period)
	} else {
		cc.numCPUsAllocated = float64(runtime.NumCPU())
	}

	usage, err := readCPUUsage(cgroupPath, version)
	if err != nil {
		return nil, fmt.Errorf("platform: read initial cpu usage: %w", err)
	}
	cc.lastCPUUsec = usage

	if throttle, err := readThrottleStats(cgroupPath, version); err == nil {
		cc.lastThrottle = throttle
	}

	return cc, nil
}

// GetPercent returns CPU usage as a percentage of allocated CPUs,
// plus the delta in throttling stats since the previous call.
func (cc *ContainerCPU) GetPercent() (percent float64, throttled ThrottleStats, err error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	now := time.Now()
	timeDelta := now.Sub(cc.lastSampleTime)

	currentUsec, err := readCPUUsage(cc.cgroupPath, cc.cgroupVersion)
	if err != nil {
		return 0, ThrottleStats{}, err
	}

	usageDelta := currentUsec - cc.lastCPUUsec
	timeDeltaUsec := timeDelta.Microseconds()
	if timeDeltaUsec == 0 {
		return 0, ThrottleStats{}, fmt.Errorf("platform: sample interval too small")
	}

	rawPercent := (float64(usageDelta) / float64(timeDeltaUsec)) * 100.0
	percent = rawPercent / cc.numCPUsAllocated

	if currentThrottle, err := readThrottleStats(cc.cgroupPath, cc.cgroupVersion); err == nil {
		throttled = ThrottleStats{
			NrPeriods:    currentThrottle.NrPeriods - cc.lastThrottle.NrPeriods,
			NrThrottled:  currentThrottle.NrThrottled - cc.lastThrottle.NrThrottled,
			ThrottledSec: currentThrottle.ThrottledSec - cc.lastThrottle.ThrottledSec,
		}
		cc.lastThrottle = currentThrottle
	}

	cc.lastCPUUsec = currentUsec
	cc.lastSampleTime = now
	return percent, throttled, nil
}

// GetAllocation returns the number of CPUs allocated to this container.
func (cc *ContainerCPU) GetAllocation() float64 {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.numCPUsAllocated
}

func detectCgroupPath() (path string, version int, err error) {
	file, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ":")
		if len(parts) != 3 {
			continue
		}
		hierarchyID, controllers, cgroupPath := parts[0], parts[1], parts[2]

		if hierarchyID == "0" && controllers == "" {
			return "/sys/fs/cgroup" + cgroupPath, 2, nil
		}
		if strings.Contains(controllers, "cpu") {
			return "/sys/fs/cgroup/cpu" + cgroupPath, 1, nil
		}
	}
	return "", 0, fmt.Errorf("platform: could not detect cgroup path")
}

func readCPUQuota(cgroupPath string, version int) (quota, period int64, err error) {
	if version == 2 {
		data, err := os.ReadFile(cgroupPath + "/cpu.max")
		if err != nil {
			return 0, 0, err
		}
		fields := strings.Fields(string(data))
		if len(fields) != 2 {
			return 0, 0, fmt.Errorf("platform: unexpected cpu.max format: %s", string(data))
		}
		if fields[0] == "max" {
			return -1, 0, nil
		}
		quota, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		period, err = strconv.ParseInt(fields[1], 10, 64)
		return quota, period, err
	}

	quotaData, err := os.ReadFile(cgroupPath + "/cpu.cfs_quota_us")
	if err != nil {
		return 0, 0, err
	}
	periodData, err := os.ReadFile(cgroupPath + "/cpu.cfs_period_us")
	if err != nil {
		return 0, 0, err
	}
	quota, err = strconv.ParseInt(strings.TrimSpace(string(quotaData)), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	period, err = strconv.ParseInt(strings.TrimSpace(string(periodData)), 10, 64)
	return quota, period, err
}

func readCPUUsage(cgroupPath string, version int) (uint64, error) {
	if version == 2 {
		file, err := os.Open(cgroupPath + "/cpu.stat")
		if err != nil {
			return 0, err
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "usage_usec ") {
				fields := strings.Fields(line)
				if len(fields) == 2 {
					return strconv.ParseUint(fields[1], 10, 64)
				}
			}
		}
		return 0, fmt.Errorf("platform: usage_usec not found in cpu.stat")
	}

	data, err := os.ReadFile(cgroupPath + "/cpuacct.usage")
	if err != nil {
		return 0, err
	}
	nsec, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, err
	}
	return nsec / 1000, nil
}

func readThrottleStats(cgroupPath string, version int) (ThrottleStats, error) {
	var stats ThrottleStats
	file, err := os.Open(cgroupPath + "/cpu.stat")
	if err != nil {
		return stats, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		value, _ := strconv.ParseUint(fields[1], 10, 64)
		switch fields[0] {
		case "nr_periods":
			stats.NrPeriods = value
		case "nr_throttled":
			stats.NrThrottled = value
		case "throttled_usec":
			stats.ThrottledSec = float64(value) / 1_000_000.0
		case "throttled_time":
			stats.ThrottledSec = float64(value) / 1_000_000_000.0
		}
	}
	return stats, nil
}

// CPUMonitor reports CPU usage, preferring container-aware cgroup
// measurement and falling back to host-wide gopsutil sampling when no
// cgroup is detected (bare metal, VMs, local development).
type CPUMonitor struct {
	mode         string
	containerCPU *ContainerCPU
	logger       zerolog.Logger
}

// NewCPUMonitor builds a CPUMonitor, logging which mode it resolved to.
func NewCPUMonitor(logger zerolog.Logger) *CPUMonitor {
	containerCPU, err := NewContainerCPU()
	if err == nil {
		logger.Info().
			Int("cgroup_version", containerCPU.cgroupVersion).
			Float64("cpus_allocated", containerCPU.GetAllocation()).
			Str("cgroup_path", containerCPU.cgroupPath).
			Msg("using container-aware CPU measurement")
		return &CPUMonitor{mode: "container", containerCPU: containerCPU, logger: logger}
	}

	logger.Warn().Err(err).Msg("falling back to host CPU measurement")
	return &CPUMonitor{mode: "host", logger: logger}
}

// GetPercent returns CPU usage as a percentage of the monitor's
// allocation (container quota, or host core count in host mode).
func (cm *CPUMonitor) GetPercent() (float64, ThrottleStats, error) {
	if cm.mode == "container" {
		return cm.containerCPU.GetPercent()
	}
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, ThrottleStats{}, err
	}
	if len(percents) == 0 {
		return 0, ThrottleStats{}, fmt.Errorf("platform: no cpu data")
	}
	return percents[0], ThrottleStats{}, nil
}

// GetAllocation returns the number of CPUs allocated to this process.
func (cm *CPUMonitor) GetAllocation() float64 {
	if cm.mode == "container" {
		return cm.containerCPU.GetAllocation()
	}
	return float64(runtime.NumCPU())
}

// Mode reports "container" or "host".
func (cm *CPUMonitor) Mode() string {
	return cm.mode
}
