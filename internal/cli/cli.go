// Package cli holds the flag handling shared by the pcview, pcdownsample and
// pcnormals commands.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"github.com/banshee-data/pcdtools/internal/config"
	"github.com/banshee-data/pcdtools/internal/monitoring"
	"github.com/banshee-data/pcdtools/internal/pipeline"
	"github.com/banshee-data/pcdtools/internal/runlog"
	"github.com/banshee-data/pcdtools/internal/version"
)

// ErrVersion is returned by Run after printing the version for -version.
var ErrVersion = errors.New("version requested")

// Command describes which stages a tool runs.
type Command struct {
	Name       string
	Downsample bool
	Normals    bool
}

// Run parses args for cmd, runs the pipeline and returns its result.
func Run(ctx context.Context, cmd Command, args []string, stdout io.Writer) (*pipeline.Result, error) {
	fs := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
	fs.SetOutput(stdout)

	input := fs.String("input", "", "Input point cloud (.ply, .pcd, .xyz, .xyzn, .xyzrgb, .pts)")
	configPath := fs.String("config", "", "Pipeline config JSON (defaults are compiled in)")
	voxelSize := fs.Float64("voxel", config.DefaultVoxelSize, "Voxel size; overrides the config value when set")
	every := fs.Int("every", 0, "Keep every nth point before voxel downsampling; overrides the config value when set")
	radius := fs.Float64("radius", config.DefaultNormalRadius, "Normal search radius; overrides the config value when set")
	maxNN := fs.Int("max-nn", config.DefaultNormalMaxNN, "Normal neighbour cap; overrides the config value when set")
	searcher := fs.String("searcher", "", "Neighbour index override: kdtree, grid or brute")
	printPoints := fs.Bool("print", cmd.Name == "pcview", "Print the point array")
	output := fs.String("output", "", "Write the processed cloud to this file")
	binary := fs.Bool("binary", true, "Write binary output where the format supports it")
	pngPath := fs.String("png", "", "Render a PNG snapshot to this file")
	htmlPath := fs.String("html", "", "Render an interactive HTML view to this file")
	serve := fs.Bool("serve", false, "Serve the view over HTTP until POST /close or interrupt")
	addr := fs.String("addr", "", "Listen address for -serve")
	runlogPath := fs.String("runlog", "", "Record the run in this SQLite database")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.String(cmd.Name))
		return nil, ErrVersion
	}
	if *input == "" && fs.NArg() > 0 {
		*input = fs.Arg(0)
	}
	if *input == "" {
		return nil, fmt.Errorf("-input is required")
	}
	monitoring.SetVerbose(*verbose)

	cfg := config.DefaultPipelineConfig()
	if *configPath != "" {
		loaded, err := config.LoadPipelineConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	// Flags given on the command line override the config file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "voxel":
			cfg.VoxelSize = voxelSize
		case "every":
			cfg.UniformEvery = every
		case "radius":
			cfg.NormalRadius = radius
		case "max-nn":
			cfg.NormalMaxNN = maxNN
		case "searcher":
			cfg.Searcher = searcher
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", cloud.ErrInvalidParameter, err)
	}

	opts := pipeline.Options{
		Command:      cmd.Name,
		InputPath:    *input,
		Config:       cfg,
		Downsample:   cmd.Downsample,
		Normals:      cmd.Normals,
		PrintPoints:  *printPoints,
		Out:          stdout,
		OutputPath:   *output,
		OutputBinary: *binary,
		PNGPath:      *pngPath,
		HTMLPath:     *htmlPath,
		Serve:        *serve,
		ServeAddr:    *addr,
	}

	if *runlogPath != "" {
		store, err := runlog.Open(*runlogPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		opts.RunLog = store
	}

	return pipeline.Run(ctx, opts)
}
