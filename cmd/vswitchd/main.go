// Command vswitchd is the switch simulator's daemon: it loads a
// SwitchConfig, brings up a backend (simulated loopback ports by
// default, or real veth/tap interfaces via -bindings), builds a Core
// over it, and serves the management API until signaled to stop.
// Generalized from cmd/server/main.go's config-load -> build -> start ->
// wait-for-signal shape.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/nexswitch/vswitch/pkg/backend"
	"github.com/nexswitch/vswitch/pkg/backend/simulated"
	"github.com/nexswitch/vswitch/pkg/config"
	"github.com/nexswitch/vswitch/pkg/core"
	"github.com/nexswitch/vswitch/pkg/mgmt"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

const version = "1.0.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Printf("vswitchd v%s\n", version)
			return
		}
	}

	fs := flag.NewFlagSet("vswitchd", flag.ExitOnError)
	configFile := fs.String("config", "", "path to a vswitch config file (YAML/JSON/TOML)")
	portCount := fs.Uint("ports", 0, "override the simulated port count (0 = use config default)")
	bindings := fs.String("bindings", "", "comma-separated port:ifname pairs to bind to real interfaces (linux only); empty uses the simulated backend")
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}
	if *portCount > 0 {
		cfg.Ports.DefaultPortCount = int(*portCount)
	}

	be, err := buildBackend(cfg, *bindings)
	if err != nil {
		log.Fatalf("building backend: %v", err)
	}

	sw, err := core.New(cfg, be)
	if err != nil {
		log.Fatalf("building core: %v", err)
	}
	if err := sw.Start(); err != nil {
		log.Fatalf("starting core: %v", err)
	}
	log.Printf("vswitchd running with %d ports", be.DeclaredPortCount())

	var mgmtServer *mgmt.Server
	if cfg.Mgmt.Enabled {
		mgmtCfg := mgmt.DefaultConfig()
		mgmtCfg.ListenAddr = cfg.Mgmt.ListenAddr
		mgmtServer = mgmt.NewServer(mgmtCfg, sw)
		if err := mgmtServer.Start(); err != nil {
			log.Fatalf("starting management server: %v", err)
		}
		log.Printf("management API listening on %s", cfg.Mgmt.ListenAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	log.Println("vswitchd is running. Press Ctrl+C to stop.")
	<-sigCh

	log.Println("shutting down...")
	if mgmtServer != nil {
		if err := mgmtServer.Stop(); err != nil {
			log.Printf("error stopping management server: %v", err)
		}
	}
	if err := sw.Stop(); err != nil {
		log.Printf("error stopping core: %v", err)
	}
	log.Println("vswitchd stopped")
}

// buildBackend returns the simulated backend unless -bindings names real
// interfaces, in which case it defers to pkg/backend/veth (linux only).
func buildBackend(cfg *config.SwitchConfig, bindingsFlag string) (backend.Backend, error) {
	if bindingsFlag == "" {
		return simulated.New(uint32(cfg.Ports.DefaultPortCount)), nil
	}
	return newVethBackend(bindingsFlag)
}

func parseBindings(s string) ([]portBinding, error) {
	var out []portBinding
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid binding %q, expected port:ifname", pair)
		}
		n, err := strconv.ParseUint(parts[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid port in binding %q: %w", pair, err)
		}
		out = append(out, portBinding{Port: packetbuf.PortID(n), Ifname: parts[1]})
	}
	return out, nil
}

type portBinding struct {
	Port   packetbuf.PortID
	Ifname string
}
