package normals

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"github.com/banshee-data/pcdtools/internal/monitoring"
	"github.com/banshee-data/pcdtools/internal/spatial"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// MinNeighbors is the smallest neighbourhood that can define a plane.
const MinNeighbors = 3

// chunkSize is the number of points handed to a worker at a time.
const chunkSize = 2048

// Params configures Estimate.
type Params struct {
	Radius float64 // search radius, must be > 0
	MaxNN  int     // neighbour cap, must be > 0

	// Workers bounds the goroutines used; <= 0 means GOMAXPROCS.
	Workers int

	// Searcher overrides the spatial index. When nil a spatial.KindKDTree
	// index is built over the cloud.
	Searcher spatial.Searcher
	// SearcherKind selects the index built when Searcher is nil.
	SearcherKind spatial.Kind
}

// DefaultParams matches the reference notebook: radius 0.1, 30 neighbours.
func DefaultParams() Params {
	return Params{Radius: 0.1, MaxNN: 30}
}

// Validate checks the numeric parameters.
func (p Params) Validate() error {
	if !(p.Radius > 0) || math.IsInf(p.Radius, 0) {
		return fmt.Errorf("normal radius must be positive and finite, got %v: %w", p.Radius, cloud.ErrInvalidParameter)
	}
	if p.MaxNN <= 0 {
		return fmt.Errorf("max neighbours must be positive, got %d: %w", p.MaxNN, cloud.ErrInvalidParameter)
	}
	return nil
}

// Stats summarises an estimation run.
type Stats struct {
	Points     int // points processed
	Degenerate int // points left with a zero normal
}

// Estimate returns a copy of c with Normals attached. Points and colours are
// shared with the input. The result does not depend on Params.Workers.
func Estimate(ctx context.Context, c *cloud.PointCloud, p Params) (*cloud.PointCloud, Stats, error) {
	if err := p.Validate(); err != nil {
		return nil, Stats{}, err
	}
	if c.IsEmpty() {
		return nil, Stats{}, fmt.Errorf("estimate normals: %w", cloud.ErrEmptyCloud)
	}
	if err := c.Validate(); err != nil {
		return nil, Stats{}, err
	}
	defer monitoring.Timed(fmt.Sprintf("normal estimation of %d points", c.Len()))()

	searcher := p.Searcher
	if searcher == nil {
		s, err := spatial.New(p.SearcherKind, c.Points, p.Radius)
		if err != nil {
			return nil, Stats{}, err
		}
		searcher = s
	}

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	normals := make([]r3.Vec, c.Len())
	var degenerate atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < c.Len(); start += chunkSize {
		end := min(start+chunkSize, c.Len())
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var fit planeFitter
			for i := start; i < end; i++ {
				n, ok := fit.normalAt(c.Points, searcher.SearchHybrid(c.Points[i], p.Radius, p.MaxNN))
				if !ok {
					degenerate.Add(1)
				}
				normals[i] = n
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, fmt.Errorf("estimate normals: %w", err)
	}

	stats := Stats{Points: c.Len(), Degenerate: int(degenerate.Load())}
	if stats.Degenerate > 0 {
		monitoring.Logf("normals: %d of %d points have fewer than %d neighbours within %g; their normals are zero",
			stats.Degenerate, stats.Points, MinNeighbors, p.Radius)
	}

	out := &cloud.PointCloud{Points: c.Points, Colors: c.Colors, Normals: normals}
	return out, stats, nil
}

// planeFitter holds scratch matrices reused across points by one worker.
type planeFitter struct {
	data mat.Dense
	cov  mat.SymDense
	eig  mat.EigenSym
	vecs mat.Dense
	vals [3]float64
}

// normalAt fits a plane to the neighbourhood and returns its unit normal.
// ok is false when the neighbourhood is too small or the fit fails; the
// returned normal is then the zero vector.
func (f *planeFitter) normalAt(points []r3.Vec, nbrs []spatial.Neighbor) (r3.Vec, bool) {
	if len(nbrs) < MinNeighbors {
		return r3.Vec{}, false
	}

	f.data.Reset()
	f.data.ReuseAs(len(nbrs), 3)
	for row, nb := range nbrs {
		q := points[nb.Index]
		f.data.Set(row, 0, q.X)
		f.data.Set(row, 1, q.Y)
		f.data.Set(row, 2, q.Z)
	}

	f.cov.Reset()
	stat.CovarianceMatrix(&f.cov, &f.data, nil)
	if !f.eig.Factorize(&f.cov, true) {
		return r3.Vec{}, false
	}
	// All-zero spread means coincident points: no plane to fit.
	vals := f.eig.Values(f.vals[:])
	if !(vals[2] > 0) {
		return r3.Vec{}, false
	}
	f.eig.VectorsTo(&f.vecs)

	// Eigenvalues come back in ascending order; column 0 is the normal.
	n := r3.Vec{X: f.vecs.At(0, 0), Y: f.vecs.At(1, 0), Z: f.vecs.At(2, 0)}
	norm := r3.Norm(n)
	if norm == 0 || math.IsNaN(norm) {
		return r3.Vec{}, false
	}
	return r3.Scale(1/norm, n), true
}
