package providers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/helmboard/helmboard/internal/protocol"
	"github.com/helmboard/helmboard/internal/stream"
)

// SystemLoad is the fast-cadence slice of the system topic.
type SystemLoad struct {
	Load1      float64 `json:"load1"`
	Load5      float64 `json:"load5"`
	Load15     float64 `json:"load15"`
	CPUPercent float64 `json:"cpu_percent"`
}

// SystemMemory is the slow-cadence slice of the system topic.
type SystemMemory struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
	SwapTotal   uint64  `json:"swap_total"`
	SwapUsed    uint64  `json:"swap_used"`

	TotalDisplay string `json:"total_display"`
	UsedDisplay  string `json:"used_display"`
	FreeDisplay  string `json:"free_display"`
}

// System returns the provider for the system topic.
func System(log zerolog.Logger) stream.ProviderFunc {
	return func(ctx context.Context, subKey string, _ protocol.Filters, shape stream.Shaping) (any, error) {
		switch subKey {
		case "load":
			avg, err := load.AvgWithContext(ctx)
			if err != nil {
				return nil, err
			}
			// Instantaneous percentage since the previous call.
			pcts, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil {
				return nil, err
			}
			snap := SystemLoad{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}
			if len(pcts) > 0 {
				snap.CPUPercent = pcts[0]
			}
			return snap, nil

		case "memory":
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return nil, err
			}
			sw, err := mem.SwapMemoryWithContext(ctx)
			if err != nil {
				return nil, err
			}
			return SystemMemory{
				Total:        vm.Total,
				Used:         vm.Used,
				Free:         vm.Available,
				UsedPercent:  vm.UsedPercent,
				SwapTotal:    sw.Total,
				SwapUsed:     sw.Used,
				TotalDisplay: formatBytes(vm.Total, shape.Units),
				UsedDisplay:  formatBytes(vm.Used, shape.Units),
				FreeDisplay:  formatBytes(vm.Available, shape.Units),
			}, nil

		default:
			return nil, fmt.Errorf("unknown system sub-key %q", subKey)
		}
	}
}
