// Package pcio reads and writes point cloud files.
//
// Supported formats are chosen by file extension: .ply (ascii and binary),
// .pcd (ascii and binary), and the whitespace-separated text family
// .xyz/.xyzn/.xyzrgb/.pts. Every decode error wraps cloud.ErrFileFormat.
package pcio
