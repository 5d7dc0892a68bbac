package agent

import "errors"

var (
	// ErrMaxIterations ends a run whose engine kept calling tools past the cap.
	ErrMaxIterations = errors.New("maximum iterations reached")

	// ErrUnknownTool is reported when the engine calls a tool nobody registered.
	ErrUnknownTool = errors.New("unknown tool")
)

// AbortError marks a tool failure that terminates the whole run instead of
// being reported back to the engine as tool output.
type AbortError struct {
	Err error
}

func (e *AbortError) Error() string { return e.Err.Error() }
func (e *AbortError) Unwrap() error { return e.Err }

// Abort wraps err so the loop stops when a tool returns it.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &AbortError{Err: err}
}

// IsAbort reports whether err carries an AbortError.
func IsAbort(err error) bool {
	var a *AbortError
	return errors.As(err, &a)
}
