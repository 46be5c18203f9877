package dataset

import (
	"errors"
	"fmt"
)

// ErrDatasetRoot is wrapped by errors about a missing or unreadable dataset root
var ErrDatasetRoot = errors.New("dataset root unavailable")

// PatternMismatchError reports a filename that carries no label token
type PatternMismatchError struct {
	Filename string
}

func (e *PatternMismatchError) Error() string {
	return fmt.Sprintf("no label found in filename %q", e.Filename)
}

// LabelNotFoundError reports a label token that is not part of the vocabulary
type LabelNotFoundError struct {
	Filename string
	Label    string
}

func (e *LabelNotFoundError) Error() string {
	return fmt.Sprintf("label %q from filename %q is not in the vocabulary", e.Label, e.Filename)
}
