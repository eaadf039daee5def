package airtable

import (
	"errors"
	"fmt"
)

// ErrTransfer is wrapped by every error that aborts a fetch.
var ErrTransfer = errors.New("airtable transfer failed")

// TransferError describes why a table fetch was aborted.
//
// Status is the HTTP status of the failing page request, or 0 when the
// request never produced a response.
type TransferError struct {
	Table  string
	Status int
	Err    error
}

func (e *TransferError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetching table %s: status %d: %v", e.Table, e.Status, e.Err)
	}
	return fmt.Sprintf("fetching table %s: %v", e.Table, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{ErrTransfer, e.Err}
}
