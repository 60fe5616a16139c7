// fleet-agent is the per-host traffic tool. The controller installs its
// input files, launches it detached and talks to it afterwards only
// through the record files, so every invocation is a short, standalone
// command except the two blocking run modes.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/oabuhamdan/fleet/internal/agent"
	"github.com/oabuhamdan/fleet/internal/traffic"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  fleet-agent server <id> <port>")
	fmt.Fprintln(os.Stderr, "  fleet-agent client <id> <dst> <port> <parallelism>")
	fmt.Fprintln(os.Stderr, "  fleet-agent pause <id>")
	fmt.Fprintln(os.Stderr, "  fleet-agent resume <id>")
	fmt.Fprintln(os.Stderr, "  fleet-agent stop <id> <client|server>")
	fmt.Fprintln(os.Stderr, "  fleet-agent status <id>")
	os.Exit(1)
}

func argInt(i int) int {
	n, err := strconv.Atoi(os.Args[i])
	if err != nil {
		usage()
	}
	return n
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}
	cmd, id := os.Args[1], os.Args[2]

	a := agent.New(agent.Config{
		StateDir:  os.Getenv("FLEET_STATE_DIR"),
		LogDir:    os.Getenv("FLEET_LOG_DIR"),
		IperfPath: os.Getenv("FLEET_IPERF"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	var err error
	switch cmd {
	case "server":
		if len(os.Args) < 4 {
			usage()
		}
		err = a.RunServer(ctx, id, argInt(3))
	case "client":
		if len(os.Args) < 6 {
			usage()
		}
		err = a.RunClient(ctx, id, os.Args[3], argInt(4), argInt(5))
	case "pause":
		if err = a.Pause(id); err == nil {
			fmt.Printf("paused %s\n", id)
		}
	case "resume":
		err = a.Resume(ctx, id)
	case "stop":
		if len(os.Args) < 4 {
			usage()
		}
		if err = a.Stop(id, traffic.Role(os.Args[3])); err == nil {
			fmt.Printf("stopped %s %s\n", os.Args[3], id)
		}
	case "status":
		err = a.Status(os.Stdout, id)
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("%s %s: %v", cmd, id, err)
	}
}
