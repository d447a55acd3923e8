// Package spatial answers fixed-radius, bounded-count neighbour queries.
//
// The Searcher interface lets normal estimation run against any index.
// Implementations: KDTree (gonum spatial/kdtree), Grid (voxel hash with
// cells sized to the search radius) and BruteForce (reference scan).
// All return neighbours nearest first, ties broken by point index.
package spatial
