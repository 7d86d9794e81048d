// Package kernel contains the error type shared by the init server's memory
// management packages.
package kernel

// Error describes a failure reported by one of the init server modules. All
// errors must be defined as package-level variables that are pointers to the
// Error structure so that callers can compare them by identity and so that
// reporting an error never requires a heap allocation (the heap itself is
// grown by the code that returns these errors).
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

// String returns the error message prefixed with the name of the module that
// reported it.
func (e *Error) String() string {
	if e == nil {
		return "<nil>"
	}

	return "[" + e.Module + "] " + e.Message
}
