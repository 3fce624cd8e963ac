package solution

import "github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"

// modelNotFoundError: no model matches the given id or nickname.
type modelNotFoundError struct{ ref string }

func (e modelNotFoundError) Error() string { return "no model with given modelID was found: " + e.ref }

// ErrModelNotFound constructs a model-not-found error for ref.
func ErrModelNotFound(ref string) error { return modelNotFoundError{ref: ref} }

// IsModelNotFound reports whether err indicates a missing model.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// pluginNotFoundError: the plugin id is not present in the registry.
type pluginNotFoundError struct{ id string }

func (e pluginNotFoundError) Error() string { return "solution with specified ID is not found: " + e.id }

// IsPluginNotFound reports whether err indicates an unregistered plugin id.
func IsPluginNotFound(err error) bool {
	_, ok := err.(pluginNotFoundError)
	return ok
}

// nicknameTakenError: the requested nickname is already in use.
type nicknameTakenError struct{ nickname string }

func (e nicknameTakenError) Error() string { return "nickname is already used, use another" }

// IsNicknameTaken reports whether err indicates a nickname collision.
func IsNicknameTaken(err error) bool {
	_, ok := err.(nicknameTakenError)
	return ok
}

// stateNotAllowedError: the operation is illegal in the model's current
// state. The state name is included for caller diagnosis.
type stateNotAllowedError struct {
	op    string
	state types.ModelState
}

func (e stateNotAllowedError) Error() string {
	return "can't " + e.op + " model with state: " + e.state.String()
}

// IsStateNotAllowed reports whether err is a lifecycle policy rejection.
func IsStateNotAllowed(err error) bool {
	_, ok := err.(stateNotAllowedError)
	return ok
}

// bookkeepingError: the plugin failed to create, look up, or update its
// private record for a model.
type bookkeepingError struct{ err error }

func (e bookkeepingError) Error() string { return "plugin bookkeeping failed: " + e.err.Error() }

func (e bookkeepingError) Unwrap() error { return e.err }

// IsBookkeepingFailed reports whether err is a plugin-side record failure.
func IsBookkeepingFailed(err error) bool {
	_, ok := err.(bookkeepingError)
	return ok
}
