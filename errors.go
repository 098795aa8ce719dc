package forumdb

import (
	"fmt"
)

// CloseError reports which parts of a Deployment failed to close.
type CloseError struct {
	BusErr   error
	StoreErr error
}

func (e *CloseError) Error() string {
	switch {
	case e.BusErr != nil && e.StoreErr != nil:
		return fmt.Sprintf("forumdb: close: bus and store failed: bus=%v; store=%v", e.BusErr, e.StoreErr)
	case e.BusErr != nil:
		return fmt.Sprintf("forumdb: close: bus failed: %v", e.BusErr)
	case e.StoreErr != nil:
		return fmt.Sprintf("forumdb: close: store failed: %v", e.StoreErr)
	default:
		return "forumdb: close: unknown error"
	}
}

func (e *CloseError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BusErr != nil {
		errs = append(errs, e.BusErr)
	}
	if e.StoreErr != nil {
		errs = append(errs, e.StoreErr)
	}
	return errs
}
