package identify

import "errors"

// ErrEmptyCorpus is returned when there are no reference tracks to compare against.
var ErrEmptyCorpus = errors.New("reference corpus is empty")
