package spatial

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/banshee-data/pcdtools/internal/cloud"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/spatial/r3"
)

func randomPoints(n int, seed int64) []r3.Vec {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]r3.Vec, n)
	for i := range pts {
		pts[i] = r3.Vec{X: rng.Float64()*2 - 1, Y: rng.Float64()*2 - 1, Z: rng.Float64() * 0.5}
	}
	return pts
}

func allSearchers(t *testing.T, pts []r3.Vec, cell float64) map[Kind]Searcher {
	t.Helper()
	out := make(map[Kind]Searcher)
	for _, k := range []Kind{KindKDTree, KindGrid, KindBruteForce} {
		s, err := New(k, pts, cell)
		if err != nil {
			t.Fatalf("New(%s) failed: %v", k, err)
		}
		out[k] = s
	}
	return out
}

func indices(nbrs []Neighbor) []int {
	out := make([]int, len(nbrs))
	for i, n := range nbrs {
		out[i] = n.Index
	}
	return out
}

func TestSearchers_AgreeWithBruteForce(t *testing.T) {
	t.Parallel()

	pts := randomPoints(2000, 11)
	searchers := allSearchers(t, pts, 0.1)
	ref := searchers[KindBruteForce]
	queries := append(randomPoints(50, 12), pts[:50]...)

	for _, tc := range []struct {
		radius float64
		maxNN  int
	}{
		{0.1, 30},
		{0.05, 5},
		{0.3, 1},
		{0.25, 1000},
	} {
		for _, q := range queries {
			want := ref.SearchHybrid(q, tc.radius, tc.maxNN)
			for kind, s := range searchers {
				got := s.SearchHybrid(q, tc.radius, tc.maxNN)
				if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
					t.Fatalf("%s radius=%v maxNN=%d q=%v mismatch (-brute +got):\n%s", kind, tc.radius, tc.maxNN, q, diff)
				}
			}
		}
	}
}

// TestSearchers_TiesBreakByIndex places many points at exactly the same
// distance so the maxNN cut falls inside a tie.
func TestSearchers_TiesBreakByIndex(t *testing.T) {
	t.Parallel()

	units := []r3.Vec{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {Z: 1}, {Z: -1}}
	pts := make([]r3.Vec, 240)
	for i := range pts {
		pts[i] = units[i%len(units)]
	}

	want := []int{0, 1, 2, 3, 4}
	for kind, s := range allSearchers(t, pts, 0.5) {
		got := s.SearchHybrid(r3.Vec{}, 1.5, 5)
		if diff := cmp.Diff(want, indices(got)); diff != "" {
			t.Errorf("%s: tie order mismatch (-want +got):\n%s", kind, diff)
		}
		for _, n := range got {
			if n.Dist2 != 1 {
				t.Errorf("%s: Dist2 = %v, want 1", kind, n.Dist2)
			}
		}
	}
}

func TestSearchHybrid_NearestFirstAndBounded(t *testing.T) {
	t.Parallel()

	pts := []r3.Vec{
		{X: 0}, {X: 0.3}, {X: 0.1}, {X: 0.2}, {X: 5},
	}
	for kind, s := range allSearchers(t, pts, 0.5) {
		t.Run(string(kind), func(t *testing.T) {
			got := s.SearchHybrid(r3.Vec{}, 0.25, 3)
			if diff := cmp.Diff([]int{0, 2, 3}, indices(got)); diff != "" {
				t.Fatalf("nearest order mismatch (-want +got):\n%s", diff)
			}
			if got[0].Dist2 != 0 {
				t.Errorf("Dist2 of query point = %v, want 0", got[0].Dist2)
			}

			// Radius excludes 0.3 even when maxNN allows more.
			if got := s.SearchHybrid(r3.Vec{}, 0.25, 10); len(got) != 3 {
				t.Errorf("expected 3 hits within radius, got %d", len(got))
			}

			if got := s.SearchHybrid(r3.Vec{X: 100}, 0.25, 10); len(got) != 0 {
				t.Errorf("far query returned %v", got)
			}
			if got := s.SearchHybrid(r3.Vec{}, 0, 10); len(got) != 0 {
				t.Errorf("zero radius returned %v", got)
			}
			if got := s.SearchHybrid(r3.Vec{}, 1, 0); len(got) != 0 {
				t.Errorf("zero maxNN returned %v", got)
			}
		})
	}
}

func TestSearchHybrid_EmptyIndex(t *testing.T) {
	t.Parallel()

	for kind, s := range allSearchers(t, nil, 0.1) {
		if got := s.SearchHybrid(r3.Vec{}, 1, 5); len(got) != 0 {
			t.Errorf("%s: empty index returned %v", kind, got)
		}
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, err := New("octree", nil, 1); !errors.Is(err, cloud.ErrInvalidParameter) {
		t.Errorf("unknown kind: got %v, want ErrInvalidParameter", err)
	}
	if _, err := New(KindGrid, nil, 0); !errors.Is(err, cloud.ErrInvalidParameter) {
		t.Errorf("zero cell size: got %v, want ErrInvalidParameter", err)
	}

	s, err := New("", randomPoints(10, 1), 0)
	if err != nil {
		t.Fatalf("default kind: %v", err)
	}
	if _, ok := s.(*KDTree); !ok {
		t.Errorf("default kind built %T, want *KDTree", s)
	}
}

func TestGrid_NegativeCells(t *testing.T) {
	t.Parallel()

	pts := []r3.Vec{{X: -0.05}, {X: 0.05}, {X: -0.2, Y: -0.2, Z: -0.2}}
	g, err := NewGrid(pts, 0.1)
	if err != nil {
		t.Fatalf("NewGrid failed: %v", err)
	}
	if len(g.Cells) != 3 {
		t.Errorf("expected 3 occupied cells, got %d", len(g.Cells))
	}

	got := g.SearchHybrid(r3.Vec{}, 0.06, 10)
	// Both points sit at distance 0.05; the tie resolves by index.
	if diff := cmp.Diff([]int{0, 1}, indices(got)); diff != "" {
		t.Errorf("neighbour mismatch (-want +got):\n%s", diff)
	}
}
