// Package hwaccel selects hardware encode paths.
//
// It keeps a registry of known accelerators (QuickSync, NVENC, AMF,
// VideoToolbox, VAAPI) with their platform support and per-codec encoder
// names, probes availability once per process by running a null encode, and
// returns the first working candidate in priority order.
package hwaccel
