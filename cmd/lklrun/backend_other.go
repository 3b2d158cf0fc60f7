//go:build !linux

package main

import (
	"fmt"
	"log/slog"

	"github.com/tavip/linux/host"
	"github.com/tavip/linux/host/coop"
)

func newHost(o options, log *slog.Logger) (host.Primitives, error) {
	if o.backend == "coop" {
		return coop.New(coop.Config{Limits: o.limits, VirtioDevices: o.virtio, Logger: log}), nil
	}
	return nil, fmt.Errorf("backend %q is not available on this system", o.backend)
}

func closeHost(host.Primitives) {}
