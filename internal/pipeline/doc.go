// Package pipeline runs the load, downsample and normal estimation stages in
// order and hands the result to the viewer outputs.
//
// It is the composition root for the command-line tools: it imports pcio,
// voxel, normals, viewer and runlog, and none of those import pipeline.
package pipeline
