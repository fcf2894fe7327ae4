// Package estimate projects output sizes, wall time, and aggregate disk
// requirements for a batch of transcode candidates.
package estimate
