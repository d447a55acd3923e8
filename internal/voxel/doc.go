// Package voxel reduces point density on a uniform grid.
//
// Responsibilities: voxel-grid downsampling (one centroid per occupied
// cell), uniform stride downsampling and occupancy counts.
// Key types: cloud.VoxelKey.
//
// Output order is sorted by voxel key so that repeated runs and golden
// tests see identical clouds.
package voxel
