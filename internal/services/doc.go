// Package services carries the cross-cutting plumbing shared by conform's
// pipeline components: sentinel error markers with a wrapping helper, and
// context annotations for job and batch correlation.
package services
