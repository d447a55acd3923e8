// Package normals estimates per-point surface normals by local plane fits.
//
// For each point the hybrid neighbourhood (at most MaxNN points within
// Radius, nearest first, the point itself included) is collected from a
// spatial.Searcher. The normal is the eigenvector of the neighbourhood
// covariance with the smallest eigenvalue. Neighbourhoods with fewer than
// three points cannot define a plane; those points get the zero vector and
// are counted in Stats.Degenerate.
//
// The sign of an estimated normal is arbitrary. OrientTowardsViewpoint and
// OrientAlongDirection apply a consistent sign afterwards.
package normals
