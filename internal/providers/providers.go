// Package providers implements the data providers behind each topic. The
// broadcast engine treats them as opaque: given filters and shaping
// parameters they return a current snapshot, or fail.
package providers

import (
	"context"
	"os/exec"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/helmboard/helmboard/internal/stream"
)

// runner executes an external CLI and returns its stdout. Swappable in
// tests so parsing can be exercised without the real tools.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func cliRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Output()
}

// formatBytes renders a byte count in the subscriber's preferred unit
// system: IEC ("1.0 GiB") or SI ("1.1 GB").
func formatBytes(n uint64, units string) string {
	if units == "decimal" {
		return humanize.Bytes(n)
	}
	return humanize.IBytes(n)
}

// Topics returns the topic registrations for the streaming engine.
func Topics(log zerolog.Logger, dockerBin string) []*stream.Topic {
	run := runner(cliRunner)
	return []*stream.Topic{
		{
			ID: "system",
			Intervals: map[string]time.Duration{
				"load":   2 * time.Second,
				"memory": 5 * time.Second,
			},
			Provider: System(log),
			Shaped:   true,
		},
		{
			ID: "disks",
			Intervals: map[string]time.Duration{
				"throughput": 1 * time.Second,
				"capacity":   30 * time.Second,
			},
			Provider:      Disks(log),
			Shaped:        true,
			DetectChanges: true,
			AllowDevices:  true,
		},
		{
			ID:            "pools",
			Intervals:     map[string]time.Duration{stream.DefaultKey: 10 * time.Second},
			Provider:      Pools(log, run),
			Shaped:        true,
			DetectChanges: true,
		},
		{
			ID:            "vms",
			Intervals:     map[string]time.Duration{stream.DefaultKey: 5 * time.Second},
			Provider:      VMs(log, run),
			DetectChanges: true,
			AllowName:     true,
		},
		{
			ID:            "containers",
			Intervals:     map[string]time.Duration{stream.DefaultKey: 5 * time.Second},
			Provider:      Containers(log, run, dockerBin),
			DetectChanges: true,
			AllowName:     true,
		},
	}
}
