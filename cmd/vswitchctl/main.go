// Command vswitchctl is a thin HTTP client for vswitchd's management
// API, generalized from cmd/client/main.go's flag-parse -> dial ->
// print-response shape.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

var resourcePaths = map[string]string{
	"stats":  "/api/stats",
	"ports":  "/api/ports",
	"vlans":  "/api/vlans",
	"mac":    "/api/mac-table",
	"arp":    "/api/arp",
	"stp":    "/api/stp",
	"routes": "/api/routes",
	"health": "/api/health",
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8732", "vswitchd management API address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	path, ok := resourcePaths[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown resource %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}

	url := fmt.Sprintf("http://%s%s", *addr, path)
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading response: %v\n", err)
		os.Exit(1)
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		os.Stdout.Write(body)
		return
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		os.Stdout.Write(body)
		return
	}
	fmt.Println(string(out))
}

func printUsage() {
	names := make([]string, 0, len(resourcePaths))
	for name := range resourcePaths {
		names = append(names, name)
	}
	fmt.Fprintf(os.Stderr, "usage: vswitchctl [-addr host:port] <resource>\n\nresources: %s\n", strings.Join(names, ", "))
}
