//go:build linux

package main

import (
	"github.com/nexswitch/vswitch/pkg/backend"
	"github.com/nexswitch/vswitch/pkg/backend/veth"
)

func newVethBackend(bindingsFlag string) (backend.Backend, error) {
	parsed, err := parseBindings(bindingsFlag)
	if err != nil {
		return nil, err
	}
	bindings := make([]veth.PortBinding, 0, len(parsed))
	for _, b := range parsed {
		bindings = append(bindings, veth.PortBinding{Port: b.Port, Ifname: b.Ifname})
	}
	return veth.New(bindings)
}
