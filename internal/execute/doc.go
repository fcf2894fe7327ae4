// Package execute runs assembled ffmpeg commands and carries each job from
// preflight through verification to atomic replacement of the source file.
//
// The runner reads ffmpeg's stderr synchronously, decoding stats lines into
// throttled progress logs. Timeout and cancellation share one termination
// path: interrupt the process group, wait out a grace window, then kill. The
// temp output is removed on every failure path, so an interrupted run never
// leaves partial files next to the library.
package execute
