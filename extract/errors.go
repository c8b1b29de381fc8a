package extract

import "fmt"

// ExtractError means neither the embedded state blob nor the rendered DOM of
// a page yielded product data.
type ExtractError struct {
	Category string
	ID       string
	Err      error
}

func (e *ExtractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s/%s: %v", e.Category, e.ID, e.Err)
	}
	return fmt.Sprintf("extract %s/%s: no product data in either channel", e.Category, e.ID)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}
