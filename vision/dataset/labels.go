package dataset

import (
	"path/filepath"
	"regexp"
)

// labelPattern captures the leading run of letters, optionally joined to a
// second run by underscores: "great_pyrenees_12.jpg" -> "great_pyrenees".
var labelPattern = regexp.MustCompile(`^[a-zA-Z]+_*[a-zA-Z]+`)

// ExtractLabel returns the label key encoded in the base name of filename
func ExtractLabel(filename string) (string, error) {
	base := filepath.Base(filename)
	match := labelPattern.FindString(base)
	if match == "" {
		return "", &PatternMismatchError{Filename: base}
	}
	return match, nil
}
