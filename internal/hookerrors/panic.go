package hookerrors

import (
	"fmt"

	"github.com/go-errors/errors"
)

// PanicError is returned when a hook implementation panics. The panic is
// recovered so it cannot affect the already-committed transition.
type PanicError struct {
	value      any
	stacktrace string
}

func (pe *PanicError) Error() string {
	return fmt.Sprintf("hook panicked: %v", pe.value)
}

func (pe *PanicError) Stack() string {
	return pe.stacktrace
}

// Run invokes f, converting a panic into a *PanicError carrying the stack
// trace of the panicking goroutine.
func Run(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				value:      r,
				stacktrace: errors.Wrap(r, 2).ErrorStack(),
			}
		}
	}()

	return f()
}
