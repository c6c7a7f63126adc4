// Package cpuspec detects CPU topology to size the worker pool.
package cpuspec

import (
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	LogicalCores     int
	PhysicalCores    int
	PerformanceCores int // 0 when the CPU is not a known hybrid design
}

var (
	intelHybridRegex = regexp.MustCompile(`intel.*(?:core.*i([3579])-1[234]\d{3}|core.*ultra\s+([579])\s)`)
	appleRegex       = regexp.MustCompile(`apple\s+m(\d)\s*(pro|max|ultra)?`)
)

// GetCPUSpec returns the specification of the host CPU.
func GetCPUSpec() CPUSpec {
	return newCPUSpec(cpuid.CPU.BrandName, cpuid.CPU.LogicalCores, cpuid.CPU.PhysicalCores)
}

func newCPUSpec(brand string, logical, physical int) CPUSpec {
	return CPUSpec{
		BrandName:        brand,
		LogicalCores:     logical,
		PhysicalCores:    physical,
		PerformanceCores: determinePerformanceCores(brand),
	}
}

// WorkerCount returns the recommended number of pool workers, keeping reserve
// cores free for the owning goroutine and the device callback. It never
// returns less than one or more than GOMAXPROCS.
func (c CPUSpec) WorkerCount(reserve int) int {
	available := runtime.GOMAXPROCS(0)

	cores := c.PerformanceCores
	if cores == 0 {
		cores = c.PhysicalCores
	}
	if cores == 0 {
		cores = c.LogicalCores
	}
	if cores == 0 {
		cores = available
	}

	return max(1, min(cores-reserve, available))
}

// determinePerformanceCores estimates P-cores for hybrid CPU families. Worker
// goroutines scheduled on efficiency cores fall behind the playback clock, so
// sizing to P-cores keeps decode latency even.
func determinePerformanceCores(brandName string) int {
	brandName = strings.ToLower(brandName)

	if m := intelHybridRegex.FindStringSubmatch(brandName); m != nil {
		tier := m[1]
		if tier == "" {
			tier = m[2]
		}
		switch tier {
		case "9", "7":
			return 8
		case "5":
			return 6
		case "3":
			return 4
		}
	}

	if m := appleRegex.FindStringSubmatch(brandName); m != nil {
		gen, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "ultra":
			if gen >= 2 {
				return 24
			}
			return 16
		case "max":
			if gen >= 2 {
				return 12
			}
			return 8
		case "pro":
			return 8
		default:
			if gen >= 4 {
				return 6
			}
			return 4
		}
	}

	return 0
}
