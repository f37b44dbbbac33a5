package daytona

import (
	"errors"
	"fmt"
)

// NotFoundError indicates an unknown sandbox ID or template.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// RemoteServiceError indicates a non-2xx response or transport failure
// from the Daytona service.
type RemoteServiceError struct {
	StatusCode int
	Body       string
	Cause      error
}

// Error implements the error interface for RemoteServiceError.
func (e *RemoteServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("daytona request failed: %v", e.Cause)
	}
	return fmt.Sprintf("daytona HTTP error %d: %s", e.StatusCode, e.Body)
}

// Unwrap returns the underlying transport error, if any.
func (e *RemoteServiceError) Unwrap() error {
	return e.Cause
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
