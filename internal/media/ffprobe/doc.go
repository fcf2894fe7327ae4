// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Descriptor: the reduced view the decision engine and command builders
//     consume, with the container derived from the file extension
//
// Primary entry points:
//   - Inspect: executes ffprobe and returns the parsed Result
//   - Describe: probes a file and reduces the Result to a Descriptor
//
// Helper methods on Result provide convenient access to stream counts,
// duration parsing, and bitrate extraction.
package ffprobe
