package spatial

import (
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// indexedPoint is a kdtree.Comparable that remembers its source index.
type indexedPoint struct {
	r3.Vec
	idx int
}

func (p indexedPoint) coord(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.X
	case 1:
		return p.Y
	}
	return p.Z
}

// Compare returns the signed distance of p from the plane through c
// perpendicular to dimension d.
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coord(d) - c.(indexedPoint).coord(d)
}

// Dims is always 3.
func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance, matching kdtree.Point.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	return r3.Norm2(r3.Sub(p.Vec, c.(indexedPoint).Vec))
}

// indexedPoints implements kdtree.Interface.
type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p indexedPoints) Len() int                      { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return plane{indexedPoints: p, dim: d}.Pivot()
}

// plane sorts indexedPoints along one dimension for median partitioning.
type plane struct {
	indexedPoints
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	return p.indexedPoints[i].coord(p.dim) < p.indexedPoints[j].coord(p.dim)
}
func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.indexedPoints = p.indexedPoints[start:end]
	return p
}

// KDTree is a Searcher backed by gonum's k-d tree.
type KDTree struct {
	tree *kdtree.Tree
	n    int
}

// NewKDTree builds a balanced tree over points. The input slice is not
// modified.
func NewKDTree(points []r3.Vec) *KDTree {
	data := make(indexedPoints, len(points))
	for i, p := range points {
		data[i] = indexedPoint{Vec: p, idx: i}
	}
	t := &KDTree{n: len(points)}
	if len(points) > 0 {
		t.tree = kdtree.New(data, false)
	}
	return t
}

// SearchHybrid implements Searcher.
func (t *KDTree) SearchHybrid(q r3.Vec, radius float64, maxNN int) []Neighbor {
	if t.tree == nil || radius <= 0 || maxNN <= 0 {
		return nil
	}
	r2 := radius * radius
	// Collect every point within the radius; finish applies the index
	// tie-break before truncating to maxNN.
	keep := kdtree.NewDistKeeper(r2)
	t.tree.NearestSet(keep, indexedPoint{Vec: q, idx: -1})

	hits := make([]Neighbor, 0, len(keep.Heap))
	for _, cd := range keep.Heap {
		// The keeper seeds its heap with a sentinel that has no Comparable.
		if cd.Comparable == nil || cd.Dist > r2 {
			continue
		}
		hits = append(hits, Neighbor{Index: cd.Comparable.(indexedPoint).idx, Dist2: cd.Dist})
	}
	return finish(hits, maxNN)
}

var _ Searcher = (*KDTree)(nil)
