package catalogue

import (
	"errors"
	"fmt"
)

// ErrAuthRequired marks an authenticated call rejected for missing or expired
// credentials. Saves that hit it route into the deferred-login retry protocol
// instead of failing terminally.
var ErrAuthRequired = errors.New("authentication required")

// ErrUnavailable marks a transport-level failure reaching the catalogue, as
// opposed to a server-reported query error.
var ErrUnavailable = errors.New("catalogue unavailable")

// QueryError is a server-reported rejection of the query itself (for example
// malformed syntax). The message is safe to surface inline next to the query
// controls.
type QueryError struct {
	Status  int
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query rejected (%d): %s", e.Status, e.Message)
}
