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

// Container is one container as reported by the container CLI.
type Container struct {
	Name   string `json:"name"`
	Image  string `json:"image"`
	State  string `json:"state"`
	Status string `json:"status"`
}

const containerFormat = "{{.Names}}\t{{.Image}}\t{{.State}}\t{{.Status}}"

// Containers returns the provider for the containers topic, backed by
// `docker ps`.
func Containers(log zerolog.Logger, run runner, dockerBin string) stream.ProviderFunc {
	return func(ctx context.Context, _ string, f protocol.Filters, _ stream.Shaping) (any, error) {
		out, err := run(ctx, dockerBin, "ps", "-a", "--format", containerFormat)
		if err != nil {
			return nil, fmt.Errorf("%s ps failed: %w", dockerBin, err)
		}
		containers := parseContainerList(string(out))
		if f.Name != "" {
			for _, c := range containers {
				if c.Name == f.Name {
					return []Container{c}, nil
				}
			}
			return nil, fault.New(fault.KindNotFound, "unknown container %q", f.Name)
		}
		return containers, nil
	}
}

// parseContainerList parses tab-separated `docker ps --format` output.
func parseContainerList(out string) []Container {
	containers := []Container{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 4)
		if len(fields) < 4 {
			continue
		}
		containers = append(containers, Container{
			Name:   fields[0],
			Image:  fields[1],
			State:  fields[2],
			Status: fields[3],
		})
	}
	return containers
}
