// Package conditions gates task dispatch on host pressure. A search is held
// back while CPU, memory or load average exceed the configured thresholds,
// up to an optional postpone deadline.
package conditions

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Config holds the thresholds; nil fields disable the corresponding check.
type Config struct {
	CPUBelow      *int           // percent
	MemoryBelow   *int           // percent
	LoadAvgBelow  *float64       // 1-minute load average
	MaxPostpone   *time.Duration // how long a task may wait for conditions, nil = execute anyway after one failed check
	CheckInterval *time.Duration // recheck period while postponed, default 30s
}

// Enabled reports whether any check is configured.
func (c Config) Enabled() bool {
	return c.CPUBelow != nil || c.MemoryBelow != nil || c.LoadAvgBelow != nil
}

// Check verifies if all conditions are met
// Returns true if conditions are satisfied, false with reason otherwise
func Check(conditions Config) (bool, string) {
	if conditions.CPUBelow != nil {
		if ok, reason := checkCPU(*conditions.CPUBelow); !ok {
			return false, reason
		}
	}

	if conditions.MemoryBelow != nil {
		if ok, reason := checkMemory(*conditions.MemoryBelow); !ok {
			return false, reason
		}
	}

	if conditions.LoadAvgBelow != nil {
		if ok, reason := checkLoadAvg(*conditions.LoadAvgBelow); !ok {
			return false, reason
		}
	}

	return true, ""
}

// checkCPU checks if CPU usage is below threshold
func checkCPU(threshold int) (bool, string) {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		return false, fmt.Sprintf("failed to get CPU: %v", err)
	}
	if len(cpuPercent) == 0 {
		return false, "no CPU data available"
	}
	current := int(cpuPercent[0])
	if current >= threshold {
		return false, fmt.Sprintf("CPU at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

// checkMemory checks if memory usage is below threshold
func checkMemory(threshold int) (bool, string) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return false, fmt.Sprintf("failed to get memory: %v", err)
	}
	current := int(v.UsedPercent)
	if current >= threshold {
		return false, fmt.Sprintf("memory at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

// checkLoadAvg checks if load average is below threshold
func checkLoadAvg(threshold float64) (bool, string) {
	loads, err := load.Avg()
	if err != nil {
		return false, fmt.Sprintf("failed to get load average: %v", err)
	}
	if loads.Load1 >= threshold {
		return false, fmt.Sprintf("load at %.2f, threshold %.2f", loads.Load1, threshold)
	}
	return true, ""
}
