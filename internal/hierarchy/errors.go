package hierarchy

import (
	"errors"
	"fmt"
)

// ErrItemNotFound is returned when an operation names a row that is not in the tree.
var ErrItemNotFound = errors.New("hierarchy: item not found")

// CycleError reports a parent assignment that would make a row its own ancestor.
type CycleError struct {
	ItemID   string
	ParentID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("hierarchy: circular reference placing %s under %s", e.ItemID, e.ParentID)
}

// InvalidParentError reports a parent that is missing or cannot hold children.
type InvalidParentError struct {
	ItemID   string
	ParentID string
	Reason   string
}

func (e *InvalidParentError) Error() string {
	return fmt.Sprintf("hierarchy: invalid parent %s for %s: %s", e.ParentID, e.ItemID, e.Reason)
}

// BatchError identifies the row that stopped a batch operation.
type BatchError struct {
	Index  int
	ItemID string
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("hierarchy: item %d (%s): %v", e.Index, e.ItemID, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
