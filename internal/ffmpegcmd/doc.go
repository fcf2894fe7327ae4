// Package ffmpegcmd assembles ffmpeg argument lists for transcode jobs.
//
// One handler exists per output codec (h264, hevc, vp8, vp9, av1). The
// builder owns the rules every job shares: constant frame rate output,
// audio stream copy when the container allows it, scale and pad filters in
// exact-caps mode, maxrate/bufsize ceilings, and the faststart flag for MP4
// output. AV1 software encoding resolves through a fixed fallback chain
// against the encoders the installed ffmpeg actually ships.
package ffmpegcmd
