package main

import (
	"fmt"
	"log/slog"

	"github.com/tavip/linux/host"
	"github.com/tavip/linux/host/coop"
	"github.com/tavip/linux/host/posix"
)

func newHost(o options, log *slog.Logger) (host.Primitives, error) {
	switch o.backend {
	case "coop":
		return coop.New(coop.Config{Limits: o.limits, VirtioDevices: o.virtio, Logger: log}), nil
	case "posix":
		return posix.New(posix.Config{Limits: o.limits, VirtioDevices: o.virtio, Logger: log}), nil
	}
	return nil, fmt.Errorf("unknown backend %q", o.backend)
}

func closeHost(h host.Primitives) {
	if p, ok := h.(*posix.Host); ok {
		p.Close()
	}
}
