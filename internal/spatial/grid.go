package spatial

import (
	"fmt"
	"math"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"gonum.org/v1/gonum/spatial/r3"
)

// Grid is a voxel-hash Searcher. Points are bucketed by cloud.KeyOf with the
// configured cell size; a query visits every cell the search ball can touch.
// It performs best when the cell size equals the search radius.
type Grid struct {
	CellSize float64
	Cells    map[cloud.VoxelKey][]int // cell key -> point indices
	points   []r3.Vec
}

// NewGrid buckets points into cells of edge cellSize.
func NewGrid(points []r3.Vec, cellSize float64) (*Grid, error) {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, fmt.Errorf("grid cell size must be positive and finite, got %v: %w", cellSize, cloud.ErrInvalidParameter)
	}
	g := &Grid{
		CellSize: cellSize,
		Cells:    make(map[cloud.VoxelKey][]int, len(points)/4+1),
		points:   points,
	}
	for i, p := range points {
		k := cloud.KeyOf(p, cellSize)
		g.Cells[k] = append(g.Cells[k], i)
	}
	return g, nil
}

// SearchHybrid implements Searcher.
func (g *Grid) SearchHybrid(q r3.Vec, radius float64, maxNN int) []Neighbor {
	if radius <= 0 || maxNN <= 0 || len(g.points) == 0 {
		return nil
	}
	r2 := radius * radius
	lo := cloud.KeyOf(r3.Sub(q, r3.Vec{X: radius, Y: radius, Z: radius}), g.CellSize)
	hi := cloud.KeyOf(r3.Add(q, r3.Vec{X: radius, Y: radius, Z: radius}), g.CellSize)

	var hits []Neighbor
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				for _, i := range g.Cells[cloud.VoxelKey{X: x, Y: y, Z: z}] {
					if d := r3.Norm2(r3.Sub(g.points[i], q)); d <= r2 {
						hits = append(hits, Neighbor{Index: i, Dist2: d})
					}
				}
			}
		}
	}
	return finish(hits, maxNN)
}

var _ Searcher = (*Grid)(nil)
