// Package capacity derives the daemon's concurrent-execution budget from
// host resources. MaxStreams converts CPU and memory into a slot count;
// Compute fans one slot count out into per-tier budgets. Both functions are
// pure and must be called fresh whenever capacity may have changed; the
// results are never cached or stored.
package capacity

import (
	"bufio"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Per-task cost estimates and headroom used by MaxStreams.
const (
	usableFraction  = 0.8 // fraction of host resources the daemon may claim
	coresPerTask    = 0.5
	memMBPerTask    = 500
	interactiveSeat = 2 // slots reserved for interactive use
)

// MaxStreams computes how many tasks may execute concurrently on a host with
// the given core count and total memory. The binding resource (CPU or
// memory) wins; a fixed reserve is subtracted for interactive use; the
// result is floored at 1.
func MaxStreams(cores int, memMB int) int {
	byCPU := int(math.Floor(float64(cores) * usableFraction / coresPerTask))
	byMem := int(math.Floor(float64(memMB) * usableFraction / memMBPerTask))

	slots := byCPU
	if byMem < slots {
		slots = byMem
	}
	slots -= interactiveSeat
	if slots < 1 {
		slots = 1
	}
	return slots
}

// HostStreams returns MaxStreams for the current host. When total memory
// cannot be determined it assumes memory is not the binding resource.
func HostStreams() int {
	memMB := hostMemMB()
	if memMB <= 0 {
		memMB = math.MaxInt32
	}
	return MaxStreams(runtime.NumCPU(), memMB)
}

// hostMemMB reads MemTotal from /proc/meminfo. Returns 0 when unavailable
// (non-Linux hosts, restricted environments).
func hostMemMB() int {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}

// TierBudget bounds concurrent activity for one tier. SoftMin and Cooldown
// are consumed by higher-level activation logic to avoid thrashing.
type TierBudget struct {
	Max      int
	SoftMin  int
	Cooldown time.Duration
}

// TaskBudget bounds the task tier. QueuedCap limits how deep the queue may
// grow relative to capacity.
type TaskBudget struct {
	QueuedCap int
	SoftMin   int
	Cooldown  time.Duration
}

// Budget is the derived capacity budget for one slot count. It is computed
// fresh every time and never mutated in place.
type Budget struct {
	Slots      int
	Project    TierBudget
	Initiative TierBudget
	Task       TaskBudget
}

// Compute derives the three tier budgets from a slot count. Fractional input
// is floored; zero and negative input are clamped to 1. Execution focus is
// deliberately capped at two projects regardless of raw capacity.
func Compute(slots float64) Budget {
	n := int(math.Floor(slots))
	if n < 1 {
		n = 1
	}

	projectMax := int(math.Ceil(float64(n) / 2))
	if projectMax > 2 {
		projectMax = 2
	}

	return Budget{
		Slots: n,
		Project: TierBudget{
			Max:      projectMax,
			SoftMin:  1,
			Cooldown: 10 * time.Minute,
		},
		Initiative: TierBudget{
			Max:      n,
			SoftMin:  1,
			Cooldown: 5 * time.Minute,
		},
		Task: TaskBudget{
			QueuedCap: n * 3,
			SoftMin:   n,
			Cooldown:  time.Minute,
		},
	}
}
