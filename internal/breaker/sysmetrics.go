package breaker

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// MemPercent approximates process memory pressure as heap in-use over heap
// reserved. Good enough as a shedding signal; absolute accuracy is not the
// point.
func MemPercent() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 {
		return 0
	}
	return float64(ms.HeapInuse) / float64(ms.HeapSys) * 100
}

var cpuSample struct {
	mu         sync.Mutex
	prevBusy   uint64
	prevTotal  uint64
	hasSample  bool
}

// CPUPercent reads machine-wide CPU usage from /proc/stat deltas between
// calls. Returns 0 when the data is unavailable (non-Linux, first call),
// which biases the breaker toward closed.
func CPUPercent() float64 {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0
	}

	var total, idle uint64
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0
		}
		total += v
		// idle + iowait
		if i == 3 || i == 4 {
			idle += v
		}
	}
	busy := total - idle

	cpuSample.mu.Lock()
	defer cpuSample.mu.Unlock()

	if !cpuSample.hasSample {
		cpuSample.prevBusy, cpuSample.prevTotal = busy, total
		cpuSample.hasSample = true
		return 0
	}
	dTotal := total - cpuSample.prevTotal
	dBusy := busy - cpuSample.prevBusy
	cpuSample.prevBusy, cpuSample.prevTotal = busy, total
	if dTotal == 0 {
		return 0
	}
	return float64(dBusy) / float64(dTotal) * 100
}
