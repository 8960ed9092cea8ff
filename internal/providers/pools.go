package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helmboard/helmboard/internal/protocol"
	"github.com/helmboard/helmboard/internal/stream"
)

// Pool is one storage pool as reported by the pool CLI.
type Pool struct {
	Name        string  `json:"name"`
	Size        uint64  `json:"size"`
	Allocated   uint64  `json:"allocated"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
	Health      string  `json:"health"`

	SizeDisplay string `json:"size_display"`
	FreeDisplay string `json:"free_display"`
}

// Pools returns the provider for the pools topic, backed by `zpool list`.
func Pools(log zerolog.Logger, run runner) stream.ProviderFunc {
	return func(ctx context.Context, _ string, _ protocol.Filters, shape stream.Shaping) (any, error) {
		out, err := run(ctx, "zpool", "list", "-Hp", "-o", "name,size,alloc,free,health")
		if err != nil {
			return nil, fmt.Errorf("zpool list failed: %w", err)
		}
		pools, err := parseZpoolList(string(out))
		if err != nil {
			return nil, err
		}
		for i := range pools {
			pools[i].SizeDisplay = formatBytes(pools[i].Size, shape.Units)
			pools[i].FreeDisplay = formatBytes(pools[i].Free, shape.Units)
		}
		return pools, nil
	}
}

// parseZpoolList parses `zpool list -Hp` output: one pool per line,
// tab-separated name/size/alloc/free/health with sizes in bytes.
func parseZpoolList(out string) ([]Pool, error) {
	pools := []Pool{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			return nil, fmt.Errorf("unexpected zpool list line: %q", line)
		}
		size, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad pool size in %q: %w", line, err)
		}
		alloc, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad pool alloc in %q: %w", line, err)
		}
		free, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad pool free in %q: %w", line, err)
		}
		p := Pool{
			Name:      fields[0],
			Size:      size,
			Allocated: alloc,
			Free:      free,
			Health:    fields[4],
		}
		if size > 0 {
			p.UsedPercent = float64(alloc) / float64(size) * 100
		}
		pools = append(pools, p)
	}
	return pools, nil
}
