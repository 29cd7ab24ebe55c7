// Package encoder wraps the ffmpeg and ffprobe command-line tools used to
// probe and sample video sources.
//
// The binaries are configurable (convert.ffmpeg_path / convert.ffprobe_path,
// or UW_FFMPEG / UW_FFPROBE); tests stub the exec layer. Image sources never
// pass through here.
package encoder
