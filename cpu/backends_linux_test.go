package cpu

import (
	"bytes"

	"github.com/tavip/linux/host"
	"github.com/tavip/linux/host/posix"
)

func init() {
	backends = append(backends, backend{
		name: "posix",
		new: func(limits host.Limits) host.Primitives {
			return posix.New(posix.Config{Limits: limits, Console: &bytes.Buffer{}})
		},
	})
}
