// Package decision implements the conformance check that determines whether
// a probed media file must be re-encoded to meet the target profile.
package decision
