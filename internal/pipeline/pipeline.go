package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"github.com/banshee-data/pcdtools/internal/config"
	"github.com/banshee-data/pcdtools/internal/monitoring"
	"github.com/banshee-data/pcdtools/internal/normals"
	"github.com/banshee-data/pcdtools/internal/pcio"
	"github.com/banshee-data/pcdtools/internal/runlog"
	"github.com/banshee-data/pcdtools/internal/spatial"
	"github.com/banshee-data/pcdtools/internal/viewer"
	"github.com/banshee-data/pcdtools/internal/voxel"
	"gonum.org/v1/gonum/spatial/r3"
)

// Options selects the stages and outputs of one run.
type Options struct {
	// Command names the run in the run log.
	Command   string
	InputPath string

	// Config supplies parameters; nil means the compiled-in defaults.
	Config *config.PipelineConfig

	Downsample  bool
	Normals     bool
	PrintPoints bool

	// Out receives the summary lines; nil means os.Stdout.
	Out io.Writer

	// Optional outputs. Serve blocks until the viewer session is closed.
	OutputPath   string
	OutputBinary bool
	PNGPath      string
	HTMLPath     string
	Serve        bool
	ServeAddr    string

	// RunLog, when set, receives a record of the run whether it succeeds
	// or fails.
	RunLog *runlog.Store
}

// Result is the outcome of a successful run.
type Result struct {
	Input       *cloud.PointCloud
	Cloud       *cloud.PointCloud
	NormalStats normals.Stats
	RunID       string
	Duration    time.Duration

	// Occupancy of the voxel grid before downsampling: the number of
	// occupied voxels and the largest point count in any one of them.
	OccupiedVoxels int
	MaxVoxelPoints int
}

// state is threaded through the stages.
type state struct {
	opts Options
	cfg  *config.PipelineConfig
	out  io.Writer
	res  *Result
}

// Stage is one named step of a run.
type Stage struct {
	Name string
	Run  func(ctx context.Context, s *state) error
}

// Stages returns the ordered stage list selected by opts.
func Stages(opts Options) []Stage {
	stages := []Stage{{Name: "load", Run: loadStage}}
	if opts.Config != nil && opts.Config.GetUniformEvery() > 1 {
		stages = append(stages, Stage{Name: "uniform", Run: uniformStage})
	}
	if opts.Downsample {
		stages = append(stages, Stage{Name: "downsample", Run: downsampleStage})
	}
	if opts.Normals {
		stages = append(stages, Stage{Name: "normals", Run: normalsStage})
		stages = append(stages, Stage{Name: "orient", Run: orientStage})
	}
	stages = append(stages, Stage{Name: "print", Run: printStage})
	if opts.OutputPath != "" {
		stages = append(stages, Stage{Name: "write", Run: writeStage})
	}
	if opts.PNGPath != "" {
		stages = append(stages, Stage{Name: "png", Run: pngStage})
	}
	if opts.HTMLPath != "" {
		stages = append(stages, Stage{Name: "html", Run: htmlStage})
	}
	if opts.Serve {
		stages = append(stages, Stage{Name: "serve", Run: serveStage})
	}
	return stages
}

// StageNames lists the names of the stages selected by opts.
func StageNames(opts Options) []string {
	stages := Stages(opts)
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.Name
	}
	return names
}

// Run executes the stages selected by opts in order. The first failing stage
// stops the run; its error is returned wrapped with the stage name.
func Run(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", cloud.ErrInvalidParameter, err)
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	s := &state{opts: opts, cfg: cfg, out: out, res: &Result{}}
	start := time.Now()

	var runErr error
	for _, st := range Stages(opts) {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		done := monitoring.Timed("stage " + st.Name)
		err := st.Run(ctx, s)
		done()
		if err != nil {
			runErr = fmt.Errorf("%s: %w", st.Name, err)
			break
		}
	}
	s.res.Duration = time.Since(start)

	if opts.RunLog != nil {
		if err := record(ctx, opts.RunLog, s, runErr); err != nil {
			monitoring.Logf("failed to record run: %v", err)
		}
	}
	if runErr != nil {
		return nil, runErr
	}
	return s.res, nil
}

// record writes the run to the run log. Cancellation of ctx does not prevent
// a cancelled run from being logged.
func record(ctx context.Context, store *runlog.Store, s *state, runErr error) error {
	params, err := json.Marshal(s.cfg)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	run := &runlog.Run{
		Command:           s.opts.Command,
		InputPath:         s.opts.InputPath,
		ParamsJSON:        params,
		InputPoints:       s.res.Input.Len(),
		OutputPoints:      s.res.Cloud.Len(),
		DegenerateNormals: s.res.NormalStats.Degenerate,
		DurationMS:        float64(s.res.Duration.Microseconds()) / 1000,
		Status:            runlog.StatusSucceeded,
	}
	if runErr != nil {
		run.Status = runlog.StatusFailed
		run.Error = runErr.Error()
	}
	if err := store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		return err
	}
	s.res.RunID = run.RunID
	return nil
}

func loadStage(_ context.Context, s *state) error {
	fmt.Fprintf(s.out, "Loading %s, printing, and rendering...\n", filepath.Base(s.opts.InputPath))
	c, err := pcio.Read(s.opts.InputPath)
	if err != nil {
		return err
	}
	s.res.Input = c
	s.res.Cloud = c
	return nil
}

func uniformStage(_ context.Context, s *state) error {
	every := s.cfg.GetUniformEvery()
	fmt.Fprintf(s.out, "Uniformly downsampling, keeping 1 of every %d points\n", every)
	kept, err := voxel.UniformDownSample(s.res.Cloud, every)
	if err != nil {
		return err
	}
	s.res.Cloud = kept
	return nil
}

func downsampleStage(_ context.Context, s *state) error {
	size := s.cfg.GetVoxelSize()
	fmt.Fprintf(s.out, "Downsampling the point cloud with a voxel size of %g\n", size)
	down, err := voxel.DownSample(s.res.Cloud, size)
	if err != nil {
		return err
	}

	occ, err := voxel.Occupancy(s.res.Cloud, size)
	if err != nil {
		return err
	}
	s.res.OccupiedVoxels = len(occ)
	for _, n := range occ {
		s.res.MaxVoxelPoints = max(s.res.MaxVoxelPoints, n)
	}
	monitoring.Logf("voxel occupancy: %d voxels, at most %d points in one", s.res.OccupiedVoxels, s.res.MaxVoxelPoints)

	s.res.Cloud = down
	return nil
}

func normalsStage(ctx context.Context, s *state) error {
	fmt.Fprintln(s.out, "Recomputing normals for the downsampled point cloud")
	withNormals, stats, err := normals.Estimate(ctx, s.res.Cloud, normals.Params{
		Radius:       s.cfg.GetNormalRadius(),
		MaxNN:        s.cfg.GetNormalMaxNN(),
		Workers:      s.cfg.GetNormalWorkers(),
		SearcherKind: spatial.Kind(s.cfg.GetSearcher()),
	})
	if err != nil {
		return err
	}
	s.res.Cloud = withNormals
	s.res.NormalStats = stats
	return nil
}

func orientStage(_ context.Context, s *state) error {
	v := s.cfg.GetOrientVector()
	vec := r3.Vec{X: v[0], Y: v[1], Z: v[2]}
	var (
		oriented *cloud.PointCloud
		err      error
	)
	switch s.cfg.GetOrientMode() {
	case "":
		return nil
	case "viewpoint":
		oriented, err = normals.OrientTowardsViewpoint(s.res.Cloud, vec)
	case "direction":
		oriented, err = normals.OrientAlongDirection(s.res.Cloud, vec)
	default:
		return fmt.Errorf("%w: unknown orient mode %q", cloud.ErrInvalidParameter, s.cfg.GetOrientMode())
	}
	if err != nil {
		return err
	}
	s.res.Cloud = oriented
	return nil
}

func printStage(_ context.Context, s *state) error {
	fmt.Fprintln(s.out, s.res.Cloud.String())
	if !s.opts.PrintPoints {
		return nil
	}
	if err := s.res.Cloud.FormatPoints(s.out, s.cfg.GetPrintEdge()); err != nil {
		return err
	}
	if s.res.Cloud.HasNormals() {
		return s.res.Cloud.FormatNormals(s.out, s.cfg.GetPrintEdge())
	}
	return nil
}

func writeStage(_ context.Context, s *state) error {
	if err := ensureDir(s.opts.OutputPath); err != nil {
		return err
	}
	return pcio.Write(s.opts.OutputPath, s.res.Cloud, pcio.WriteOptions{Binary: s.opts.OutputBinary})
}

func (s *state) viewParams() viewer.ViewParams {
	p := viewer.FromConfig(s.cfg.GetView())
	if s.opts.Normals {
		p.ShowNormals = true
	}
	return p
}

func pngStage(_ context.Context, s *state) error {
	return writeFile(s.opts.PNGPath, func(w io.Writer) error {
		return viewer.RenderPNG(w, s.viewParams(), s.res.Cloud)
	})
}

func htmlStage(_ context.Context, s *state) error {
	return writeFile(s.opts.HTMLPath, func(w io.Writer) error {
		return viewer.RenderHTML(w, s.viewParams(), s.res.Cloud)
	})
}

func serveStage(ctx context.Context, s *state) error {
	v := &viewer.Viewer{Params: s.viewParams(), Addr: s.opts.ServeAddr}
	if s.opts.RunLog != nil {
		v.Routes = func(mux *http.ServeMux) {
			if err := s.opts.RunLog.AttachAdminRoutes(mux); err != nil {
				monitoring.Logf("run log admin routes unavailable: %v", err)
			}
		}
	}
	return v.Show(ctx, s.res.Cloud)
}

// writeFile creates path (and its directory) and streams render into it.
func writeFile(path string, render func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	monitoring.Logf("wrote %s", path)
	return nil
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	return nil
}
