package resources

// resourceNotFoundError: no resource row exists for the id.
type resourceNotFoundError struct{ id int64 }

func (e resourceNotFoundError) Error() string { return "resource not found" }

// ErrResourceNotFound constructs a not-found error for id.
func ErrResourceNotFound(id int64) error { return resourceNotFoundError{id: id} }

// IsNotFound reports whether err indicates an unknown resource id.
func IsNotFound(err error) bool {
	_, ok := err.(resourceNotFoundError)
	return ok
}

// pluginRemovedError: the loader plugin recorded as owner is no longer loaded.
type pluginRemovedError struct{ pluginID string }

func (e pluginRemovedError) Error() string {
	return "plugin handling this resource has been removed: " + e.pluginID
}

// ErrPluginRemoved constructs a removed-plugin error for pluginID.
func ErrPluginRemoved(pluginID string) error { return pluginRemovedError{pluginID: pluginID} }

// IsPluginRemoved reports whether err indicates the owning plugin is gone.
func IsPluginRemoved(err error) bool {
	_, ok := err.(pluginRemovedError)
	return ok
}

// recordMissingError: the owning plugin no longer has the payload.
type recordMissingError struct{ id int64 }

func (e recordMissingError) Error() string { return "resource can no longer be found" }

// ErrRecordMissing constructs a missing-payload error for id.
func ErrRecordMissing(id int64) error { return recordMissingError{id: id} }

// IsRecordMissing reports whether err indicates the payload is gone from the
// owning plugin's storage.
func IsRecordMissing(err error) bool {
	_, ok := err.(recordMissingError)
	return ok
}
