package audio

import "errors"

var (
	// ErrInputFormat marks input that cannot be decoded to a single-channel
	// sample sequence: missing, corrupt, unsupported or empty.
	ErrInputFormat = errors.New("unsupported or unreadable audio input")

	ErrFFmpegUnavailable = errors.New("ffmpeg not found in PATH")
)
