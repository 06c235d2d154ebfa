package skycache

import (
	"errors"
	"fmt"
)

var (
	// ErrNilStore is returned by New when Options.Store is missing and the
	// cache is not Disabled.
	ErrNilStore = errors.New("skycache: nil store")

	// ErrUnknownCategory is returned by Put for a category outside the
	// known set.
	ErrUnknownCategory = errors.New("skycache: unknown category")

	// ErrWriteFailed marks an abandoned write: every conditional-write
	// attempt lost the version race. Soft by contract; callers tolerate a
	// miss on subsequent reads.
	ErrWriteFailed = errors.New("skycache: write abandoned")
)

// WriteFailedError carries the coordinates of an abandoned write.
type WriteFailedError struct {
	Category Category
	Key      string
	Attempts int
	Err      error // last version conflict observed
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("put %s/%q abandoned after %d attempts: %v",
		e.Category, e.Key, e.Attempts, e.Err)
}

func (e *WriteFailedError) Unwrap() []error {
	errs := make([]error, 0, 2)
	errs = append(errs, ErrWriteFailed)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
