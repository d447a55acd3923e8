// Package cloud owns the in-memory point cloud model.
//
// Responsibilities: the PointCloud container, voxel keys, bounds and the
// printable summaries the command-line tools emit.
// Key types: PointCloud, VoxelKey.
//
// Dependency rule: cloud depends on nothing else in this module. File
// formats live in pcio, transforms in voxel and normals.
package cloud
