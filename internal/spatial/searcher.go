package spatial

import (
	"fmt"
	"sort"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"gonum.org/v1/gonum/spatial/r3"
)

// Neighbor is one search hit.
type Neighbor struct {
	Index int     // position in the indexed point slice
	Dist2 float64 // squared Euclidean distance to the query
}

// Searcher returns up to maxNN points within radius of q, nearest first.
// A query point that is itself indexed is returned with Dist2 == 0.
type Searcher interface {
	SearchHybrid(q r3.Vec, radius float64, maxNN int) []Neighbor
}

// Kind names a Searcher implementation.
type Kind string

const (
	KindKDTree     Kind = "kdtree"
	KindGrid       Kind = "grid"
	KindBruteForce Kind = "brute"
)

// New builds a Searcher of the given kind over points. cellSize is only used
// by the grid index and should match the intended search radius.
func New(kind Kind, points []r3.Vec, cellSize float64) (Searcher, error) {
	switch kind {
	case KindKDTree, "":
		return NewKDTree(points), nil
	case KindGrid:
		return NewGrid(points, cellSize)
	case KindBruteForce:
		return NewBruteForce(points), nil
	}
	return nil, fmt.Errorf("unknown searcher kind %q: %w", kind, cloud.ErrInvalidParameter)
}

// finish orders hits nearest first and truncates to maxNN.
func finish(hits []Neighbor, maxNN int) []Neighbor {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Dist2 != hits[j].Dist2 {
			return hits[i].Dist2 < hits[j].Dist2
		}
		return hits[i].Index < hits[j].Index
	})
	if len(hits) > maxNN {
		hits = hits[:maxNN]
	}
	return hits
}

// BruteForce scans every point. It is the reference implementation for tests
// and is adequate for clouds of a few thousand points.
type BruteForce struct {
	points []r3.Vec
}

// NewBruteForce indexes points without copying them.
func NewBruteForce(points []r3.Vec) *BruteForce {
	return &BruteForce{points: points}
}

// SearchHybrid implements Searcher.
func (b *BruteForce) SearchHybrid(q r3.Vec, radius float64, maxNN int) []Neighbor {
	if radius <= 0 || maxNN <= 0 {
		return nil
	}
	r2 := radius * radius
	var hits []Neighbor
	for i, p := range b.points {
		if d := r3.Norm2(r3.Sub(p, q)); d <= r2 {
			hits = append(hits, Neighbor{Index: i, Dist2: d})
		}
	}
	return finish(hits, maxNN)
}

var _ Searcher = (*BruteForce)(nil)
