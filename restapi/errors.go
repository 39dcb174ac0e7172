package restapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Routine outcomes and hard failures.
var (
	// ErrBackendUnavailable wraps connect, socket and pool-acquisition
	// timeouts as well as any other I/O failure reaching the backend.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrNotFound marks a not-found-class response on a lookup.
	ErrNotFound = errors.New("user not found")
)

// BackendError is a non-200 response on an operation where the status has no
// not-found-as-value meaning. It carries the status and raw body for
// diagnostics.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend rejected request with status %d", e.Status)
	}
	return fmt.Sprintf("backend rejected request with status %d: %s", e.Status, e.Body)
}

// Is lets callers treat a 404 BackendError as ErrNotFound, so a repeated
// delete of the same user can be recognized without inspecting the status.
func (e *BackendError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}
