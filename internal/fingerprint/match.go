package fingerprint

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Acceptance thresholds of the two matchers.
const (
	MatchTolerance  = 1e-100
	Match2Tolerance = 0.1
)

// Match reports whether two v1 fingerprint values are equal up to a squared
// difference below MatchTolerance.
func Match(stored, snippet float64) bool {
	d := stored - snippet
	return d*d < MatchTolerance
}

// Match2 reports whether two v2 fingerprint vectors lie within Euclidean
// distance Match2Tolerance of each other.
func Match2(stored, snippet []float64) (bool, error) {
	if len(stored) != len(snippet) {
		return false, fmt.Errorf("%w: stored has %d components, snippet has %d",
			ErrLengthMismatch, len(stored), len(snippet))
	}
	return floats.Distance(stored, snippet, 2) < Match2Tolerance, nil
}
