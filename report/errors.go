package report

import "fmt"

// ComposeError means the workbook could not be built or written. Losing the
// report loses the whole run's output, so callers treat it as fatal.
type ComposeError struct {
	Path string
	Err  error
}

func (e *ComposeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("compose report %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("compose report: %v", e.Err)
}

func (e *ComposeError) Unwrap() error {
	return e.Err
}
