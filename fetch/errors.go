package fetch

import "fmt"

// FetchError is a per-page fetch failure.
type FetchError struct {
	Category string
	ID       string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s/%s: %v", e.Category, e.ID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
