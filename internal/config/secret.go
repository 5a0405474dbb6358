package config

import (
	"fmt"
	"os"
	"strings"
)

// secret is a value given either inline or as a path to a file holding it.
type secret struct {
	inline string
	file   string
}

// resolve returns the concrete value, reading and trimming the file when
// one is referenced. Setting both forms is an error.
func (s secret) resolve(field string) (string, error) {
	switch {
	case s.inline != "" && s.file != "":
		return "", fmt.Errorf("%s: set either the value or the _file variant, not both", field)
	case s.file != "":
		data, err := os.ReadFile(s.file) //nolint:gosec // path comes from the operator
		if err != nil {
			return "", fmt.Errorf("%s: read secret file: %w", field, err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return s.inline, nil
	}
}
