package pipeline

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"github.com/banshee-data/pcdtools/internal/config"
	"github.com/banshee-data/pcdtools/internal/monitoring"
	"github.com/banshee-data/pcdtools/internal/pcio"
	"github.com/banshee-data/pcdtools/internal/runlog"
	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r3"
)

func init() {
	monitoring.SetLogger(nil)
}

// writeRandomCloud writes n uniformly distributed points inside a box of the
// given side length as binary PLY.
func writeRandomCloud(t *testing.T, n int, side float64) string {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	pts := make([]r3.Vec, n)
	for i := range pts {
		pts[i] = r3.Vec{X: rng.Float64() * side, Y: rng.Float64() * side, Z: rng.Float64() * side}
	}
	path := filepath.Join(t.TempDir(), "cloud.ply")
	if err := pcio.Write(path, cloud.New(pts), pcio.WriteOptions{Binary: true}); err != nil {
		t.Fatalf("failed to write cloud: %v", err)
	}
	return path
}

// writePlane writes a 0.02-spaced grid on z=0.
func writePlane(t *testing.T) string {
	t.Helper()
	var pts []r3.Vec
	for x := 0; x < 40; x++ {
		for y := 0; y < 40; y++ {
			pts = append(pts, r3.Vec{X: float64(x) * 0.02, Y: float64(y) * 0.02})
		}
	}
	path := filepath.Join(t.TempDir(), "plane.xyz")
	if err := pcio.Write(path, cloud.New(pts), pcio.WriteOptions{}); err != nil {
		t.Fatalf("failed to write plane: %v", err)
	}
	return path
}

func openStore(t *testing.T) *runlog.Store {
	t.Helper()
	store, err := runlog.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("runlog.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStageNames(t *testing.T) {
	every := config.DefaultPipelineConfig()
	every.UniformEvery = ptrInt(3)
	keepAll := config.DefaultPipelineConfig()
	keepAll.UniformEvery = ptrInt(1)

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{"view", Options{}, []string{"load", "print"}},
		{"downsample", Options{Downsample: true, PNGPath: "x.png"}, []string{"load", "downsample", "print", "png"}},
		{
			"normals",
			Options{Downsample: true, Normals: true, OutputPath: "o.ply", HTMLPath: "x.html", Serve: true},
			[]string{"load", "downsample", "normals", "orient", "print", "write", "html", "serve"},
		},
		{"uniform", Options{Config: every, Downsample: true}, []string{"load", "uniform", "downsample", "print"}},
		{"uniform every 1 is a no-op", Options{Config: keepAll}, []string{"load", "print"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, StageNames(tt.opts)); diff != "" {
				t.Errorf("StageNames mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_ViewPrintsSummary(t *testing.T) {
	path := writePlane(t)
	var out bytes.Buffer

	res, err := Run(context.Background(), Options{Command: "pcview", InputPath: path, PrintPoints: true, Out: &out})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Cloud.Len() != 1600 {
		t.Errorf("Len = %d, want 1600", res.Cloud.Len())
	}
	if res.Input != res.Cloud {
		t.Error("view-only run must return the loaded cloud unchanged")
	}

	text := out.String()
	for _, want := range []string{"PointCloud with 1600 points.", "...", "[[0.00000000 0.00000000 0.00000000]"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestRun_EndToEndDownsample(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large cloud in short mode")
	}
	const n = 196133
	path := writeRandomCloud(t, n, 2)
	var out bytes.Buffer

	res, err := Run(context.Background(), Options{Command: "pcdownsample", InputPath: path, Downsample: true, Out: &out})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Input.Len() != n {
		t.Errorf("input Len = %d, want %d", res.Input.Len(), n)
	}
	if got := res.Cloud.Len(); got <= 0 || got >= n {
		t.Errorf("downsampled Len = %d, want in (0, %d)", got, n)
	}
	if res.OccupiedVoxels != res.Cloud.Len() {
		t.Errorf("OccupiedVoxels = %d, want one per output point (%d)", res.OccupiedVoxels, res.Cloud.Len())
	}
	if !strings.Contains(out.String(), "voxel size of 0.05") {
		t.Errorf("output missing voxel size line:\n%s", out.String())
	}
}

func TestRun_DownsampleOccupancy(t *testing.T) {
	// 40x40 grid at 0.02 spacing in 0.1 voxels: 8x8 voxels of 5x5 points.
	cfg := config.DefaultPipelineConfig()
	cfg.VoxelSize = ptr(0.1)

	res, err := Run(context.Background(), Options{InputPath: writePlane(t), Config: cfg, Downsample: true, Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.OccupiedVoxels != 64 || res.Cloud.Len() != 64 {
		t.Errorf("occupied = %d, output = %d, want 64 each", res.OccupiedVoxels, res.Cloud.Len())
	}
	if res.MaxVoxelPoints < 25 {
		t.Errorf("MaxVoxelPoints = %d, want at least 25", res.MaxVoxelPoints)
	}
}

func TestRun_UniformBeforeVoxel(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	cfg.UniformEvery = ptrInt(4)
	var out bytes.Buffer

	res, err := Run(context.Background(), Options{InputPath: writePlane(t), Config: cfg, Out: &out})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Input.Len() != 1600 || res.Cloud.Len() != 400 {
		t.Errorf("input %d output %d, want 1600 and 400", res.Input.Len(), res.Cloud.Len())
	}
	if res.Cloud.Points[1] != res.Input.Points[4] {
		t.Errorf("second kept point = %v, want input point 4 %v", res.Cloud.Points[1], res.Input.Points[4])
	}
	if !strings.Contains(out.String(), "keeping 1 of every 4 points") {
		t.Errorf("output missing uniform line:\n%s", out.String())
	}
}

func TestRun_NormalsWithOutputs(t *testing.T) {
	path := writePlane(t)
	dir := t.TempDir()
	store := openStore(t)

	cfg := config.DefaultPipelineConfig()
	cfg.VoxelSize = ptr(0.04)
	mode := "direction"
	cfg.OrientMode = &mode

	opts := Options{
		Command:    "pcnormals",
		InputPath:  path,
		Config:     cfg,
		Downsample: true,
		Normals:    true,
		Out:        &bytes.Buffer{},
		OutputPath: filepath.Join(dir, "out", "normals.ply"),
		PNGPath:    filepath.Join(dir, "out", "view.png"),
		HTMLPath:   filepath.Join(dir, "out", "view.html"),
		RunLog:     store,
	}
	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !res.Cloud.HasNormals() {
		t.Fatal("result has no normals")
	}
	for i, n := range res.Cloud.Normals {
		if r3.Norm2(n) == 0 {
			continue
		}
		// Oriented along +Z.
		if math.Abs(n.Z-1) > 1e-9 {
			t.Errorf("normal %d = %v, want +Z", i, n)
		}
	}

	for _, p := range []string{opts.OutputPath, opts.PNGPath, opts.HTMLPath} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("output missing: %v", err)
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", p)
		}
	}

	back, err := pcio.ReadFile(opts.OutputPath, pcio.ReadOptions{KeepNormals: true})
	if err != nil {
		t.Fatalf("reading output failed: %v", err)
	}
	if back.Len() != res.Cloud.Len() || !back.HasNormals() {
		t.Errorf("written cloud has %d points (normals %v), want %d with normals", back.Len(), back.HasNormals(), res.Cloud.Len())
	}

	if res.RunID == "" {
		t.Fatal("run was not recorded")
	}
	run, err := store.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != runlog.StatusSucceeded || run.Command != "pcnormals" {
		t.Errorf("run status %q command %q", run.Status, run.Command)
	}
	if run.InputPoints != 1600 || run.OutputPoints != res.Cloud.Len() {
		t.Errorf("run points in=%d out=%d, want 1600 and %d", run.InputPoints, run.OutputPoints, res.Cloud.Len())
	}
	if run.DegenerateNormals != res.NormalStats.Degenerate {
		t.Errorf("DegenerateNormals = %d, want %d", run.DegenerateNormals, res.NormalStats.Degenerate)
	}
	if !strings.Contains(string(run.ParamsJSON), `"voxel_size":0.04`) {
		t.Errorf("params %s missing voxel size", run.ParamsJSON)
	}
}

func TestRun_FailuresStopAndAreRecorded(t *testing.T) {
	store := openStore(t)

	_, err := Run(context.Background(), Options{
		Command:   "pcview",
		InputPath: filepath.Join(t.TempDir(), "missing.ply"),
		Out:       &bytes.Buffer{},
		RunLog:    store,
	})
	if !errors.Is(err, cloud.ErrFileFormat) {
		t.Fatalf("error = %v, want ErrFileFormat", err)
	}
	if !strings.HasPrefix(err.Error(), "load: ") {
		t.Errorf("error %q lacks the stage name", err)
	}

	runs, err := store.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Status != runlog.StatusFailed {
		t.Errorf("status = %q, want failed", runs[0].Status)
	}
	if !strings.Contains(runs[0].Error, "missing.ply") {
		t.Errorf("recorded error %q does not name the input", runs[0].Error)
	}
	if runs[0].InputPoints != 0 {
		t.Errorf("InputPoints = %d, want 0", runs[0].InputPoints)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.PipelineConfig)
	}{
		{"negative voxel", func(c *config.PipelineConfig) { c.VoxelSize = ptr(-1) }},
		{"zero print edge", func(c *config.PipelineConfig) { c.PrintEdge = ptrInt(0) }},
		{"negative uniform every", func(c *config.PipelineConfig) { c.UniformEvery = ptrInt(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultPipelineConfig()
			tt.mutate(cfg)
			_, err := Run(context.Background(), Options{InputPath: writePlane(t), Config: cfg, Downsample: true, Out: &bytes.Buffer{}})
			if !errors.Is(err, cloud.ErrInvalidParameter) {
				t.Errorf("error = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Options{InputPath: writePlane(t), Out: &bytes.Buffer{}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func ptr(v float64) *float64 { return &v }

func ptrInt(v int) *int { return &v }
