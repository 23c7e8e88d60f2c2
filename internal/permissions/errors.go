package permissions

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionFetch = errors.New("could not verify permissions")
	ErrUnknownResource = errors.New("unknown resource")
	ErrUnknownAction   = errors.New("unknown action")
)

// FetchError describes why the permissions endpoint could not produce a
// grant set. Status is 0 when no response was received.
type FetchError struct {
	Status int
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrPermissionFetch, e.Reason)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPermissionFetch}
	}
	return []error{ErrPermissionFetch, e.Err}
}
