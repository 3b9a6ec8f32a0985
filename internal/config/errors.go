package config

import (
	"fmt"
	"strings"
)

// ValidationError aggregates every problem found while validating a
// loaded configuration. The loader reports every problem it can find
// rather than failing on the first, so operators fix a config in one
// pass instead of one error at a time.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration:\n  - " + strings.Join(e.Problems, "\n  - ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) errOrNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
