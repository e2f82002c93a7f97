package pipeline

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// GopsutilSampler reads CPU and memory usage from the host.
type GopsutilSampler struct{}

// Sample returns instantaneous CPU and memory percentages.
func (GopsutilSampler) Sample() (SystemMetrics, error) {
	var metrics SystemMetrics

	percents, err := cpu.Percent(0, false)
	if err != nil {
		return metrics, err
	}
	if len(percents) > 0 {
		metrics.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return metrics, err
	}
	metrics.MemoryPercent = vm.UsedPercent

	return metrics, nil
}
