package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helmboard/helmboard/internal/fault"
	"github.com/helmboard/helmboard/internal/protocol"
	"github.com/helmboard/helmboard/internal/stream"
)

// VM is one virtual machine as reported by the virtualization CLI.
type VM struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// VMs returns the provider for the vms topic, backed by `virsh list`.
func VMs(log zerolog.Logger, run runner) stream.ProviderFunc {
	return func(ctx context.Context, _ string, f protocol.Filters, _ stream.Shaping) (any, error) {
		out, err := run(ctx, "virsh", "list", "--all")
		if err != nil {
			return nil, fmt.Errorf("virsh list failed: %w", err)
		}
		vms := parseVirshList(string(out))
		if f.Name != "" {
			for _, vm := range vms {
				if vm.Name == f.Name {
					return []VM{vm}, nil
				}
			}
			return nil, fault.New(fault.KindNotFound, "unknown vm %q", f.Name)
		}
		return vms, nil
	}
}

// parseVirshList parses the `virsh list --all` table:
//
//	 Id   Name     State
//	----------------------
//	 1    web      running
//	 -    backup   shut off
func parseVirshList(out string) []VM {
	vms := []VM{}
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		// Skip the two header lines and blanks.
		if i < 2 || line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		vm := VM{Name: fields[1], State: strings.Join(fields[2:], " ")}
		if fields[0] != "-" {
			vm.ID = fields[0]
		}
		vms = append(vms, vm)
	}
	return vms
}
