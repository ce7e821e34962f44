package knowledge

import (
	"errors"
	"fmt"
)

// Sentinel errors for manager operations. Check with errors.Is().
var (
	// ErrNotFound indicates no document matches the given key or name.
	ErrNotFound = errors.New("document not found")
)

// IngestError reports a user-correctable problem with an uploaded document:
// empty content, invalid encoding, nothing to chunk. It is distinct from
// collaborator failures (embedding errors), which are transient and do not
// implicate the document itself.
type IngestError struct {
	Name   string // document name as given by the caller
	Reason string
	Err    error // underlying cause, may be nil
}

func (e *IngestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingesting %q: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("ingesting %q: %s", e.Name, e.Reason)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}
