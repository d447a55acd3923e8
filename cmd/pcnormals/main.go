// Command pcnormals loads a point cloud, downsamples it, estimates per-point
// normals and renders the result with the normals shown.
//
// Usage:
//
//	go run ./cmd/pcnormals -input fragment.ply [flags]
//
// Flags:
//
//	-config   Pipeline config JSON (default: compiled-in defaults)
//	-png      Write a PNG snapshot
//	-html     Write an interactive HTML view
//	-serve    Serve the view until POST /close or interrupt
//	-runlog   Record the run in a SQLite database
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/pcdtools/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := cli.Command{Name: "pcnormals", Downsample: true, Normals: true}
	if _, err := cli.Run(ctx, cmd, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, cli.ErrVersion) || errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("pcnormals: %v", err)
	}
}
