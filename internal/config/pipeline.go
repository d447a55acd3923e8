package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// Defaults reproduce the reference notebooks.
const (
	DefaultVoxelSize    = 0.05
	DefaultNormalRadius = 0.1
	DefaultNormalMaxNN  = 30
	DefaultZoom         = 0.3412
	DefaultSearcher     = "kdtree"
	DefaultPrintEdge    = 3
)

var (
	DefaultFront  = [3]float64{0.4257, -0.2125, -0.8795}
	DefaultLookAt = [3]float64{2.6172, 2.0475, 1.532}
	DefaultUp     = [3]float64{-0.0694, -0.9768, 0.2024}
)

// PipelineConfig is the root configuration shared by the command-line tools.
// Every field is optional; the Get* accessors supply the defaults, so a
// partial JSON file is safe. Command-line flags override loaded values.
type PipelineConfig struct {
	// Downsampling. UniformEvery keeps every nth point before voxelisation;
	// 0 and 1 keep every point.
	VoxelSize    *float64 `json:"voxel_size,omitempty"`
	UniformEvery *int     `json:"uniform_every,omitempty"`

	// Normal estimation
	NormalRadius  *float64 `json:"normal_radius,omitempty"`
	NormalMaxNN   *int     `json:"normal_max_nn,omitempty"`
	NormalWorkers *int     `json:"normal_workers,omitempty"`
	Searcher      *string  `json:"searcher,omitempty"` // kdtree, grid or brute

	// Orientation applied after estimation: "", "viewpoint" or "direction".
	OrientMode   *string     `json:"orient_mode,omitempty"`
	OrientVector *[3]float64 `json:"orient_vector,omitempty"`

	// Printing
	PrintEdge *int `json:"print_edge,omitempty"`

	// Viewer
	View *ViewConfig `json:"view,omitempty"`
}

// ViewConfig mirrors the camera dictionary passed to the viewer.
type ViewConfig struct {
	Zoom        *float64    `json:"zoom,omitempty"`
	Front       *[3]float64 `json:"front,omitempty"`
	LookAt      *[3]float64 `json:"lookat,omitempty"`
	Up          *[3]float64 `json:"up,omitempty"`
	ShowNormals *bool       `json:"point_show_normal,omitempty"`
	Width       *int        `json:"width,omitempty"`
	Height      *int        `json:"height,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64   { return &v }
func ptrInt(v int) *int               { return &v }
func ptrString(v string) *string      { return &v }
func ptrBool(v bool) *bool            { return &v }
func ptrVec(v [3]float64) *[3]float64 { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a config with every field populated from the
// compiled-in defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		VoxelSize:     ptrFloat64(DefaultVoxelSize),
		UniformEvery:  ptrInt(0),
		NormalRadius:  ptrFloat64(DefaultNormalRadius),
		NormalMaxNN:   ptrInt(DefaultNormalMaxNN),
		NormalWorkers: ptrInt(0),
		Searcher:      ptrString(DefaultSearcher),
		OrientMode:    ptrString(""),
		PrintEdge:     ptrInt(DefaultPrintEdge),
		View: &ViewConfig{
			Zoom:        ptrFloat64(DefaultZoom),
			Front:       ptrVec(DefaultFront),
			LookAt:      ptrVec(DefaultLookAt),
			Up:          ptrVec(DefaultUp),
			ShowNormals: ptrBool(false),
			Width:       ptrInt(1024),
			Height:      ptrInt(768),
		},
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file cannot
// be loaded, intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/<tool>/
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.VoxelSize != nil && !positiveFinite(*c.VoxelSize) {
		return fmt.Errorf("voxel_size must be positive, got %v", *c.VoxelSize)
	}
	if c.UniformEvery != nil && *c.UniformEvery < 0 {
		return fmt.Errorf("uniform_every must be non-negative, got %d", *c.UniformEvery)
	}
	if c.NormalRadius != nil && !positiveFinite(*c.NormalRadius) {
		return fmt.Errorf("normal_radius must be positive, got %v", *c.NormalRadius)
	}
	if c.NormalMaxNN != nil && *c.NormalMaxNN <= 0 {
		return fmt.Errorf("normal_max_nn must be positive, got %d", *c.NormalMaxNN)
	}
	if c.NormalWorkers != nil && *c.NormalWorkers < 0 {
		return fmt.Errorf("normal_workers must be non-negative, got %d", *c.NormalWorkers)
	}
	if c.Searcher != nil {
		switch *c.Searcher {
		case "", "kdtree", "grid", "brute":
		default:
			return fmt.Errorf("searcher must be one of kdtree, grid, brute; got %q", *c.Searcher)
		}
	}
	if c.OrientMode != nil {
		switch *c.OrientMode {
		case "", "viewpoint", "direction":
		default:
			return fmt.Errorf("orient_mode must be viewpoint or direction, got %q", *c.OrientMode)
		}
	}
	if c.PrintEdge != nil && *c.PrintEdge <= 0 {
		return fmt.Errorf("print_edge must be positive, got %d", *c.PrintEdge)
	}
	if c.View != nil {
		if err := c.View.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the camera values.
func (v *ViewConfig) Validate() error {
	if v.Zoom != nil && !positiveFinite(*v.Zoom) {
		return fmt.Errorf("view.zoom must be positive, got %v", *v.Zoom)
	}
	if v.Front != nil && isZero(*v.Front) {
		return fmt.Errorf("view.front must be non-zero")
	}
	if v.Up != nil && isZero(*v.Up) {
		return fmt.Errorf("view.up must be non-zero")
	}
	if v.Width != nil && *v.Width <= 0 {
		return fmt.Errorf("view.width must be positive, got %d", *v.Width)
	}
	if v.Height != nil && *v.Height <= 0 {
		return fmt.Errorf("view.height must be positive, got %d", *v.Height)
	}
	return nil
}

func positiveFinite(v float64) bool { return v > 0 && !math.IsInf(v, 0) }

func isZero(v [3]float64) bool { return v[0] == 0 && v[1] == 0 && v[2] == 0 }

// GetVoxelSize returns the voxel_size value or the default.
func (c *PipelineConfig) GetVoxelSize() float64 {
	if c.VoxelSize == nil {
		return DefaultVoxelSize
	}
	return *c.VoxelSize
}

// GetUniformEvery returns uniform_every; 0 means every point is kept.
func (c *PipelineConfig) GetUniformEvery() int {
	if c.UniformEvery == nil {
		return 0
	}
	return *c.UniformEvery
}

// GetNormalRadius returns the normal_radius value or the default.
func (c *PipelineConfig) GetNormalRadius() float64 {
	if c.NormalRadius == nil {
		return DefaultNormalRadius
	}
	return *c.NormalRadius
}

// GetNormalMaxNN returns the normal_max_nn value or the default.
func (c *PipelineConfig) GetNormalMaxNN() int {
	if c.NormalMaxNN == nil {
		return DefaultNormalMaxNN
	}
	return *c.NormalMaxNN
}

// GetNormalWorkers returns normal_workers; 0 means one per CPU.
func (c *PipelineConfig) GetNormalWorkers() int {
	if c.NormalWorkers == nil {
		return 0
	}
	return *c.NormalWorkers
}

// GetSearcher returns the searcher value or the default.
func (c *PipelineConfig) GetSearcher() string {
	if c.Searcher == nil || *c.Searcher == "" {
		return DefaultSearcher
	}
	return *c.Searcher
}

// GetOrientMode returns the orient_mode value or "" (no orientation).
func (c *PipelineConfig) GetOrientMode() string {
	if c.OrientMode == nil {
		return ""
	}
	return *c.OrientMode
}

// GetOrientVector returns the orient_vector value or +Z.
func (c *PipelineConfig) GetOrientVector() [3]float64 {
	if c.OrientVector == nil {
		return [3]float64{0, 0, 1}
	}
	return *c.OrientVector
}

// GetPrintEdge returns the print_edge value or the default.
func (c *PipelineConfig) GetPrintEdge() int {
	if c.PrintEdge == nil {
		return DefaultPrintEdge
	}
	return *c.PrintEdge
}

// GetView returns the view section, never nil.
func (c *PipelineConfig) GetView() *ViewConfig {
	if c.View == nil {
		return &ViewConfig{}
	}
	return c.View
}

// GetZoom returns the zoom value or the default.
func (v *ViewConfig) GetZoom() float64 {
	if v.Zoom == nil {
		return DefaultZoom
	}
	return *v.Zoom
}

// GetFront returns the front vector or the default.
func (v *ViewConfig) GetFront() [3]float64 {
	if v.Front == nil {
		return DefaultFront
	}
	return *v.Front
}

// GetLookAt returns the lookat point or the default.
func (v *ViewConfig) GetLookAt() [3]float64 {
	if v.LookAt == nil {
		return DefaultLookAt
	}
	return *v.LookAt
}

// GetUp returns the up vector or the default.
func (v *ViewConfig) GetUp() [3]float64 {
	if v.Up == nil {
		return DefaultUp
	}
	return *v.Up
}

// GetShowNormals returns the point_show_normal value or false.
func (v *ViewConfig) GetShowNormals() bool {
	if v.ShowNormals == nil {
		return false
	}
	return *v.ShowNormals
}

// GetWidth returns the image width in pixels or 1024.
func (v *ViewConfig) GetWidth() int {
	if v.Width == nil {
		return 1024
	}
	return *v.Width
}

// GetHeight returns the image height in pixels or 768.
func (v *ViewConfig) GetHeight() int {
	if v.Height == nil {
		return 768
	}
	return *v.Height
}
