// Package kernel contains the types shared by every kernel subsystem.
package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to Error so callers can compare them by identity; the allocator
// paths that produce them must not depend on the Go heap to report failure.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// String returns the error prefixed with the module that raised it.
func (e *Error) String() string {
	return "[" + e.Module + "] " + e.Message
}

// AsError converts e into an error value. A nil *Error yields a nil error
// rather than a non-nil interface holding a nil pointer.
func AsError(e *Error) error {
	if e == nil {
		return nil
	}
	return e
}
