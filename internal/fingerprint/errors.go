package fingerprint

import "errors"

var (
	// ErrInsufficientDuration is returned when a waveform is shorter than one
	// analysis window, so no time column can be formed.
	ErrInsufficientDuration = errors.New("audio shorter than one analysis window")

	// ErrLengthMismatch is returned by Match2 for vectors of unequal length.
	ErrLengthMismatch = errors.New("fingerprint vectors differ in length")
)
