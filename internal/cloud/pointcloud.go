package cloud

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// PointCloud is an ordered sequence of 3D points with optional per-point
// normals and colours. Normals and Colors, when non-nil, are index-aligned
// with Points. Transforms never mutate a cloud; they return a new one.
type PointCloud struct {
	Points  []r3.Vec
	Normals []r3.Vec // unit vectors, or the zero vector for degenerate points
	Colors  []r3.Vec // RGB in [0,1]
}

// New wraps points in a PointCloud without normals or colours.
func New(points []r3.Vec) *PointCloud {
	return &PointCloud{Points: points}
}

// Len returns the number of points.
func (c *PointCloud) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Points)
}

// IsEmpty reports whether the cloud has no points.
func (c *PointCloud) IsEmpty() bool { return c.Len() == 0 }

// HasNormals reports whether a normal is attached to every point.
func (c *PointCloud) HasNormals() bool {
	return c != nil && len(c.Points) > 0 && len(c.Normals) == len(c.Points)
}

// HasColors reports whether a colour is attached to every point.
func (c *PointCloud) HasColors() bool {
	return c != nil && len(c.Points) > 0 && len(c.Colors) == len(c.Points)
}

// Validate checks the alignment invariant between points and the optional
// attribute slices.
func (c *PointCloud) Validate() error {
	if c == nil {
		return fmt.Errorf("nil point cloud: %w", ErrEmptyCloud)
	}
	if c.Normals != nil && len(c.Normals) != len(c.Points) {
		return fmt.Errorf("normals length %d does not match points length %d", len(c.Normals), len(c.Points))
	}
	if c.Colors != nil && len(c.Colors) != len(c.Points) {
		return fmt.Errorf("colors length %d does not match points length %d", len(c.Colors), len(c.Points))
	}
	return nil
}

// Clone returns a deep copy.
func (c *PointCloud) Clone() *PointCloud {
	if c == nil {
		return nil
	}
	out := &PointCloud{Points: append([]r3.Vec(nil), c.Points...)}
	if c.Normals != nil {
		out.Normals = append([]r3.Vec(nil), c.Normals...)
	}
	if c.Colors != nil {
		out.Colors = append([]r3.Vec(nil), c.Colors...)
	}
	return out
}

// Bounds returns the axis-aligned bounding box of the points.
// The zero box is returned for an empty cloud.
func (c *PointCloud) Bounds() r3.Box {
	if c.IsEmpty() {
		return r3.Box{}
	}
	minP := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	maxP := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range c.Points {
		minP.X = math.Min(minP.X, p.X)
		minP.Y = math.Min(minP.Y, p.Y)
		minP.Z = math.Min(minP.Z, p.Z)
		maxP.X = math.Max(maxP.X, p.X)
		maxP.Y = math.Max(maxP.Y, p.Y)
		maxP.Z = math.Max(maxP.Z, p.Z)
	}
	return r3.Box{Min: minP, Max: maxP}
}

// Center returns the arithmetic mean of the points.
func (c *PointCloud) Center() r3.Vec {
	if c.IsEmpty() {
		return r3.Vec{}
	}
	var sum r3.Vec
	for _, p := range c.Points {
		sum = r3.Add(sum, p)
	}
	return r3.Scale(1/float64(len(c.Points)), sum)
}

// String matches the one-line summary printed by the command-line tools.
func (c *PointCloud) String() string {
	return fmt.Sprintf("PointCloud with %d points.", c.Len())
}
