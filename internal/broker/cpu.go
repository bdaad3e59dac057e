package broker

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

// cgroupCPU reads cumulative CPU usage directly from the cgroup
// filesystem and reports it as a percentage of the container's own
// quota, not the host's. Supports both cgroup v2 (cpu.stat/cpu.max) and
// the legacy v1 layout (cpuacct.usage/cpu.cfs_quota_us).
type cgroupCPU struct {
	mu         sync.Mutex
	path       string
	v2         bool
	allocated  float64 // CPUs allocated (quota/period), or NumCPU if unlimited
	lastUsec   uint64
	lastSample time.Time
}

func detectCgroupCPU() (*cgroupCPU, error) {
	path, v2, err := findCgroupPath()
	if err != nil {
		return nil, err
	}
	c := &cgroupCPU{path: path, v2: v2, lastSample: time.Now()}

	quota, period, err := c.readQuota()
	if err != nil {
		return nil, fmt.Errorf("broker: read cgroup cpu quota: %w", err)
	}
	if quota > 0 && period > 0 {
		c.allocated = float64(quota) / float64(period)
	} else {
		c.allocated = float64(runtime.NumCPU())
	}

	usage, err := c.readUsageUsec()
	if err != nil {
		return nil, fmt.Errorf("broker: read cgroup cpu usage: %w", err)
	}
	c.lastUsec = usage
	return c, nil
}

func findCgroupPath() (path string, v2 bool, err error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ":")
		if len(parts) != 3 {
			continue
		}
		if parts[0] == "0" && parts[1] == "" {
			return "/sys/fs/cgroup" + parts[2], true, nil
		}
		if strings.Contains(parts[1], "cpu") {
			return "/sys/fs/cgroup/cpu" + parts[2], false, nil
		}
	}
	return "", false, fmt.Errorf("broker: no cgroup cpu controller found")
}

func (c *cgroupCPU) readQuota() (quota, period int64, err error) {
	if c.v2 {
		data, err := os.ReadFile(c.path + "/cpu.max")
		if err != nil {
			return 0, 0, err
		}
		fields := strings.Fields(string(data))
		if len(fields) != 2 {
			return 0, 0, fmt.Errorf("unexpected cpu.max format: %q", data)
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

	q, err := os.ReadFile(c.path + "/cpu.cfs_quota_us")
	if err != nil {
		return 0, 0, err
	}
	p, err := os.ReadFile(c.path + "/cpu.cfs_period_us")
	if err != nil {
		return 0, 0, err
	}
	quota, err = strconv.ParseInt(strings.TrimSpace(string(q)), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	period, err = strconv.ParseInt(strings.TrimSpace(string(p)), 10, 64)
	return quota, period, err
}

func (c *cgroupCPU) readUsageUsec() (uint64, error) {
	if c.v2 {
		f, err := os.Open(c.path + "/cpu.stat")
		if err != nil {
			return 0, err
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if fields := strings.Fields(scanner.Text()); len(fields) == 2 && fields[0] == "usage_usec" {
				return strconv.ParseUint(fields[1], 10, 64)
			}
		}
		return 0, fmt.Errorf("usage_usec not found in cpu.stat")
	}

	data, err := os.ReadFile(c.path + "/cpuacct.usage")
	if err != nil {
		return 0, err
	}
	nsec, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	return nsec / 1000, err
}

// percent returns CPU usage as a percentage of the container's own
// allocation, so 100% means "using the whole quota", not "one core".
func (c *cgroupCPU) percent() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	elapsedUsec := now.Sub(c.lastSample).Microseconds()
	if elapsedUsec <= 0 {
		return 0, fmt.Errorf("broker: sample interval too small")
	}

	usage, err := c.readUsageUsec()
	if err != nil {
		return 0, err
	}
	delta := usage - c.lastUsec
	c.lastUsec = usage
	c.lastSample = now

	raw := (float64(delta) / float64(elapsedUsec)) * 100.0
	return raw / c.allocated, nil
}

// cpuMonitor reports CPU usage relative to the container's allocation
// when running under cgroups, falling back to host-wide gopsutil
// measurement otherwise (bare metal, VMs, macOS/Windows dev).
type cpuMonitor struct {
	cgroup *cgroupCPU
	logger zerolog.Logger
}

func newCPUMonitor(logger zerolog.Logger) *cpuMonitor {
	cg, err := detectCgroupCPU()
	if err != nil {
		logger.Warn().Err(err).Msg("cgroup cpu detection failed, falling back to host measurement")
		return &cpuMonitor{logger: logger}
	}
	logger.Info().Float64("cpus_allocated", cg.allocated).Msg("using cgroup-aware cpu measurement")
	return &cpuMonitor{cgroup: cg, logger: logger}
}

func (m *cpuMonitor) percent() float64 {
	if m.cgroup != nil {
		if p, err := m.cgroup.percent(); err == nil {
			return p
		}
	}
	pcts, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(pcts) == 0 {
		return 0
	}
	return pcts[0]
}
