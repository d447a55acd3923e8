package voxel

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"github.com/banshee-data/pcdtools/internal/monitoring"
	"gonum.org/v1/gonum/spatial/r3"
)

// voxelAccumulator sums the members of one voxel.
type voxelAccumulator struct {
	sum      r3.Vec
	colorSum r3.Vec
	count    int
}

// DownSample buckets points into cubes of edge size (key = floor(p/size))
// and replaces each occupied cube with the mean of its members. Colours are
// averaged; normals are dropped because resampling invalidates them.
//
// A non-positive or non-finite size returns cloud.ErrInvalidParameter and an
// empty input returns cloud.ErrEmptyCloud.
func DownSample(c *cloud.PointCloud, size float64) (*cloud.PointCloud, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, fmt.Errorf("voxel downsample: %w", cloud.ErrEmptyCloud)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	defer monitoring.Timed(fmt.Sprintf("voxel downsample of %d points", c.Len()))()

	hasColors := c.HasColors()
	// Rough initial capacity; grows as needed.
	voxels := make(map[cloud.VoxelKey]*voxelAccumulator, len(c.Points)/8+1)
	for i, p := range c.Points {
		key := cloud.KeyOf(p, size)
		acc, ok := voxels[key]
		if !ok {
			acc = &voxelAccumulator{}
			voxels[key] = acc
		}
		acc.sum = r3.Add(acc.sum, p)
		if hasColors {
			acc.colorSum = r3.Add(acc.colorSum, c.Colors[i])
		}
		acc.count++
	}

	keys := make([]cloud.VoxelKey, 0, len(voxels))
	for k := range voxels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	out := &cloud.PointCloud{Points: make([]r3.Vec, len(keys))}
	if hasColors {
		out.Colors = make([]r3.Vec, len(keys))
	}
	for i, k := range keys {
		acc := voxels[k]
		inv := 1 / float64(acc.count)
		out.Points[i] = r3.Scale(inv, acc.sum)
		if hasColors {
			out.Colors[i] = r3.Scale(inv, acc.colorSum)
		}
	}

	monitoring.Debugf("voxel: %d points -> %d voxels at size %g", c.Len(), out.Len(), size)
	return out, nil
}

// Occupancy counts the points that fall into each voxel of edge size.
func Occupancy(c *cloud.PointCloud, size float64) (map[cloud.VoxelKey]int, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	counts := make(map[cloud.VoxelKey]int)
	if c == nil {
		return counts, nil
	}
	for _, p := range c.Points {
		counts[cloud.KeyOf(p, size)]++
	}
	return counts, nil
}

// UniformDownSample keeps every nth point, starting with the first, and
// carries normals and colours of the kept points along.
func UniformDownSample(c *cloud.PointCloud, every int) (*cloud.PointCloud, error) {
	if every <= 0 {
		return nil, fmt.Errorf("uniform downsample: every must be positive, got %d: %w", every, cloud.ErrInvalidParameter)
	}
	if c.IsEmpty() {
		return nil, fmt.Errorf("uniform downsample: %w", cloud.ErrEmptyCloud)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	n := (c.Len() + every - 1) / every
	out := &cloud.PointCloud{Points: make([]r3.Vec, 0, n)}
	if c.HasNormals() {
		out.Normals = make([]r3.Vec, 0, n)
	}
	if c.HasColors() {
		out.Colors = make([]r3.Vec, 0, n)
	}
	for i := 0; i < c.Len(); i += every {
		out.Points = append(out.Points, c.Points[i])
		if out.Normals != nil {
			out.Normals = append(out.Normals, c.Normals[i])
		}
		if out.Colors != nil {
			out.Colors = append(out.Colors, c.Colors[i])
		}
	}
	return out, nil
}

func checkSize(size float64) error {
	if !(size > 0) || math.IsInf(size, 0) {
		return fmt.Errorf("voxel size must be positive and finite, got %v: %w", size, cloud.ErrInvalidParameter)
	}
	return nil
}
