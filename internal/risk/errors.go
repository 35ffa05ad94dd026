package risk

import (
	"errors"
	"fmt"
)

// InsufficientDataError reports that too few aggregate rows exist to split
// into training and validation partitions.
type InsufficientDataError struct {
	Rows int
	Min  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("risk: insufficient data: %d aggregate rows, need at least %d", e.Rows, e.Min)
}

// IsInsufficientData returns true if err (or any error in its chain) is an
// InsufficientDataError.
func IsInsufficientData(err error) bool {
	var ide *InsufficientDataError
	return errors.As(err, &ide)
}
