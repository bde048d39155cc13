//go:build !linux

package main

import (
	"fmt"

	"github.com/nexswitch/vswitch/pkg/backend"
)

func newVethBackend(bindingsFlag string) (backend.Backend, error) {
	return nil, fmt.Errorf("-bindings requires the veth backend, which is linux-only")
}
