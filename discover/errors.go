package discover

import "fmt"

// DiscoveryError is a per-category discovery failure. Auth marks failures
// that look like an expired or rejected session rather than a flaky listing.
type DiscoveryError struct {
	Category string
	Reason   string
	Auth     bool
	Err      error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discover %s: %s: %v", e.Category, e.Reason, e.Err)
	}
	return fmt.Sprintf("discover %s: %s", e.Category, e.Reason)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}
