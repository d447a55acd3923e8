// Package viewer renders point clouds from a fixed camera pose.
//
// A ViewParams value describes the camera the same way an interactive
// viewer's "set view" call does: a zoom factor, a front vector pointing from
// the look-at point toward the eye, the look-at point itself and an up hint.
// RenderPNG produces a static orthographic snapshot with gonum/plot,
// RenderHTML an interactive go-echarts 3D scatter, and Viewer.Show serves
// both over HTTP until the session is closed.
package viewer
