package kernel

import (
	"bytes"

	"github.com/tavip/linux/host"
	"github.com/tavip/linux/host/posix"
)

func init() {
	backends = append(backends, backend{
		name: "posix",
		new: func(limits host.Limits, console *bytes.Buffer) host.Primitives {
			return posix.New(posix.Config{Limits: limits, Console: console, VirtioDevices: virtio})
		},
	})
}
