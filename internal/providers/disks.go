package providers

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/helmboard/helmboard/internal/auth"
	"github.com/helmboard/helmboard/internal/protocol"
	"github.com/helmboard/helmboard/internal/stream"
)

// DiskThroughput is the fast-cadence slice of the disks topic.
type DiskThroughput struct {
	Device     string `json:"device"`
	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`
	ReadCount  uint64 `json:"read_count"`
	WriteCount uint64 `json:"write_count"`
}

// DiskCapacity is the slow-cadence slice of the disks topic.
type DiskCapacity struct {
	Device      string  `json:"device"`
	Mountpoint  string  `json:"mountpoint,omitempty"` // admin only
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`

	TotalDisplay string `json:"total_display"`
	UsedDisplay  string `json:"used_display"`
	FreeDisplay  string `json:"free_display"`
}

// Disks returns the provider for the disks topic. The device filter narrows
// which disks are reported; viewers do not see raw mount paths.
func Disks(log zerolog.Logger) stream.ProviderFunc {
	return func(ctx context.Context, subKey string, f protocol.Filters, shape stream.Shaping) (any, error) {
		wanted := make(map[string]bool, len(f.Devices))
		for _, d := range f.Devices {
			wanted[d] = true
		}
		match := func(device string) bool {
			return len(wanted) == 0 || wanted[device]
		}

		switch subKey {
		case "throughput":
			counters, err := disk.IOCountersWithContext(ctx, f.Devices...)
			if err != nil {
				return nil, err
			}
			out := make([]DiskThroughput, 0, len(counters))
			for name, c := range counters {
				if !match(name) {
					continue
				}
				out = append(out, DiskThroughput{
					Device:     name,
					ReadBytes:  c.ReadBytes,
					WriteBytes: c.WriteBytes,
					ReadCount:  c.ReadCount,
					WriteCount: c.WriteCount,
				})
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
			return out, nil

		case "capacity":
			parts, err := disk.PartitionsWithContext(ctx, false)
			if err != nil {
				return nil, err
			}
			out := make([]DiskCapacity, 0, len(parts))
			for _, p := range parts {
				if !match(p.Device) {
					continue
				}
				usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
				if err != nil {
					log.Debug().Err(err).Str("mountpoint", p.Mountpoint).Msg("skipping unreadable mountpoint")
					continue
				}
				dc := DiskCapacity{
					Device:       p.Device,
					Total:        usage.Total,
					Used:         usage.Used,
					Free:         usage.Free,
					UsedPercent:  usage.UsedPercent,
					TotalDisplay: formatBytes(usage.Total, shape.Units),
					UsedDisplay:  formatBytes(usage.Used, shape.Units),
					FreeDisplay:  formatBytes(usage.Free, shape.Units),
				}
				if shape.Role == auth.RoleAdmin {
					dc.Mountpoint = p.Mountpoint
				}
				out = append(out, dc)
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
			return out, nil

		default:
			return nil, fmt.Errorf("unknown disks sub-key %q", subKey)
		}
	}
}
