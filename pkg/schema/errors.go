package schema

import "fmt"

// Load stages reported by LoadError.
const (
	StageFetch   = "fetch"
	StageParse   = "parse"
	StageResolve = "resolve"
)

// LoadError reports that the schema definition could not be fetched,
// parsed, or resolved to a usable message type. Load failures are never
// cached; the next Resolve call retries from scratch.
type LoadError struct {
	Origin string
	Stage  string
	Err    error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("schema %s failed (%s): %v", e.Stage, e.Origin, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *LoadError) Unwrap() error {
	return e.Err
}
