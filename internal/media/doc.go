// Package media classifies and decodes uploaded source files.
//
// A source file's identity is the SHA-256 of its bytes; discovery and cache
// invalidation both key on it. Still and animated images are decoded here
// (GIF frames are composed per their disposal semantics); video files are
// sampled through the encoder package's ffmpeg wrapper.
package media
