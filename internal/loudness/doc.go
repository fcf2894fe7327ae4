// Package loudness measures and verifies audio loudness via ffmpeg's
// loudnorm filter.
//
// Measure runs the analysis pass and parses the JSON block loudnorm prints
// to stderr. Evaluate checks measurements against targets within preset or
// custom tolerances. Pass2Filter builds the linear normalization filter the
// command builder injects when a file needs correcting.
package loudness
