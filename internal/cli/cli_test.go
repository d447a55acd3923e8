package cli

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"github.com/banshee-data/pcdtools/internal/monitoring"
	"github.com/banshee-data/pcdtools/internal/pcio"
	"github.com/banshee-data/pcdtools/internal/runlog"
	"gonum.org/v1/gonum/spatial/r3"
)

func init() {
	monitoring.SetLogger(nil)
}

var (
	pcview       = Command{Name: "pcview"}
	pcdownsample = Command{Name: "pcdownsample", Downsample: true}
	pcnormals    = Command{Name: "pcnormals", Downsample: true, Normals: true}
)

func writeGrid(t *testing.T, dir string) string {
	t.Helper()
	var pts []r3.Vec
	for x := 0; x < 20; x++ {
		for y := 0; y < 20; y++ {
			pts = append(pts, r3.Vec{X: float64(x) * 0.01, Y: float64(y) * 0.01, Z: 1})
		}
	}
	path := filepath.Join(dir, "grid.pcd")
	if err := pcio.Write(path, cloud.New(pts), pcio.WriteOptions{Binary: true}); err != nil {
		t.Fatalf("failed to write grid: %v", err)
	}
	return path
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	_, err := Run(context.Background(), pcview, []string{"-version"}, &out)
	if !errors.Is(err, ErrVersion) {
		t.Errorf("error = %v, want ErrVersion", err)
	}
	if !strings.Contains(out.String(), "pcview dev") {
		t.Errorf("version output %q", out.String())
	}
}

func TestRun_RequiresInput(t *testing.T) {
	if _, err := Run(context.Background(), pcview, nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error without -input")
	}
}

func TestRun_PositionalInputAndPrint(t *testing.T) {
	path := writeGrid(t, t.TempDir())
	var out bytes.Buffer
	res, err := Run(context.Background(), pcview, []string{path}, &out)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Cloud.Len() != 400 {
		t.Errorf("Len = %d, want 400", res.Cloud.Len())
	}
	for _, want := range []string{"PointCloud with 400 points.", "1.00000000]"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRun_FlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeGrid(t, dir)
	dbPath := filepath.Join(dir, "runs.db")
	outPath := filepath.Join(dir, "down.xyz")

	res, err := Run(context.Background(), pcdownsample, []string{
		"-input", path, "-voxel", "0.1", "-output", outPath, "-runlog", dbPath,
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// 0.2 x 0.2 grid at voxel 0.1 gives 2x2 cells.
	if res.Cloud.Len() != 4 {
		t.Errorf("Len = %d, want 4", res.Cloud.Len())
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Errorf("output not written: %v", err)
	}

	store, err := runlog.Open(dbPath)
	if err != nil {
		t.Fatalf("runlog.Open failed: %v", err)
	}
	defer store.Close()
	runs, err := store.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Command != "pcdownsample" || runs[0].OutputPoints != 4 {
		t.Errorf("run command %q output %d", runs[0].Command, runs[0].OutputPoints)
	}
	if !strings.Contains(string(runs[0].ParamsJSON), `"voxel_size":0.1`) {
		t.Errorf("params %s missing voxel size", runs[0].ParamsJSON)
	}
}

func TestRun_FlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(cfgPath, []byte(`{"voxel_size": 0.005}`), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := Run(context.Background(), pcdownsample, []string{
		"-input", writeGrid(t, dir), "-config", cfgPath, "-voxel", "0.1",
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Cloud.Len() != 4 {
		t.Errorf("Len = %d, want 4 from -voxel 0.1", res.Cloud.Len())
	}
}

func TestRun_ExplicitZeroFlagsRejected(t *testing.T) {
	tests := []struct {
		flag    string
		value   string
		wantErr string
	}{
		{"-voxel", "0", "voxel_size"},
		{"-voxel", "-0.5", "voxel_size"},
		{"-radius", "0", "normal_radius"},
		{"-max-nn", "0", "normal_max_nn"},
		{"-every", "-1", "uniform_every"},
		{"-searcher", "octree", "searcher"},
	}
	for _, tt := range tests {
		t.Run(tt.flag+"="+tt.value, func(t *testing.T) {
			dir := t.TempDir()
			var out bytes.Buffer
			res, err := Run(context.Background(), pcnormals, []string{
				"-input", writeGrid(t, dir), tt.flag, tt.value,
			}, &out)
			if err == nil {
				t.Fatalf("Run accepted %s %s and returned %d points", tt.flag, tt.value, res.Cloud.Len())
			}
			if !errors.Is(err, cloud.ErrInvalidParameter) {
				t.Errorf("error = %v, want ErrInvalidParameter", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
			if out.Len() != 0 {
				t.Errorf("nothing should run before validation, got output:\n%s", out.String())
			}
		})
	}
}

func TestRun_Every(t *testing.T) {
	path := writeGrid(t, t.TempDir())
	var out bytes.Buffer
	res, err := Run(context.Background(), pcview, []string{"-input", path, "-every", "8", "-print=false"}, &out)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Input.Len() != 400 || res.Cloud.Len() != 50 {
		t.Errorf("input %d output %d, want 400 and 50", res.Input.Len(), res.Cloud.Len())
	}
	if !strings.Contains(out.String(), "PointCloud with 50 points.") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestRun_Normals(t *testing.T) {
	path := writeGrid(t, t.TempDir())
	res, err := Run(context.Background(), Command{Name: "pcnormals", Normals: true}, []string{
		"-input", path, "-radius", "0.05", "-max-nn", "10", "-searcher", "grid",
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Cloud.HasNormals() {
		t.Fatal("result has no normals")
	}
	if res.NormalStats.Degenerate != 0 {
		t.Errorf("Degenerate = %d, want 0", res.NormalStats.Degenerate)
	}
	for i, n := range res.Cloud.Normals {
		if math.Abs(math.Abs(n.Z)-1) > 1e-9 {
			t.Errorf("normal %d = %v, want +-Z", i, n)
		}
	}
}

func TestRun_BadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(cfgPath, []byte(`{"normal_max_nn": -3}`), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Run(context.Background(), Command{Name: "pcnormals", Normals: true}, []string{
		"-input", writeGrid(t, dir), "-config", cfgPath,
	}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "normal_max_nn") {
		t.Errorf("error = %v, want mention of normal_max_nn", err)
	}
}
