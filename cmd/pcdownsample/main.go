// Command pcdownsample loads a point cloud, voxel-downsamples it and renders the result.
//
// Usage:
//
//	go run ./cmd/pcdownsample -input fragment.ply [flags]
//
// Flags:
//
//	-config   Pipeline config JSON (default: compiled-in defaults)
//	-voxel    Voxel size (default 0.05)
//	-every    Keep every nth point before voxel downsampling
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

	cmd := cli.Command{Name: "pcdownsample", Downsample: true}
	if _, err := cli.Run(ctx, cmd, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, cli.ErrVersion) || errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("pcdownsample: %v", err)
	}
}
