package pipeline

// Issues is the structured error and warning bag attached to a node.
// The slots are independent: a node can simultaneously carry a
// configuration error and an execution error from its last run.
// Validate clears the bag before re-deriving it, so a slot is only ever
// as stale as the last validation.
type Issues struct {
	// QueryError is a configuration problem that blocks compilation.
	QueryError error
	// ResponseError is a problem with the engine's response.
	ResponseError error
	// DataError is a problem with the returned data itself.
	DataError error
	// ExecutionError is a failure reported by the execution engine.
	ExecutionError error
	// Warnings are non-blocking notices.
	Warnings []string
}

// Clear resets every slot.
func (i *Issues) Clear() {
	i.QueryError = nil
	i.ResponseError = nil
	i.DataError = nil
	i.ExecutionError = nil
	i.Warnings = nil
}

// HasError reports whether any error slot is set.
func (i *Issues) HasError() bool {
	return i.QueryError != nil || i.ResponseError != nil ||
		i.DataError != nil || i.ExecutionError != nil
}

// FirstError returns the first set error slot, in slot order.
func (i *Issues) FirstError() error {
	switch {
	case i.QueryError != nil:
		return i.QueryError
	case i.ResponseError != nil:
		return i.ResponseError
	case i.DataError != nil:
		return i.DataError
	case i.ExecutionError != nil:
		return i.ExecutionError
	}
	return nil
}

// AddWarning appends a non-blocking notice.
func (i *Issues) AddWarning(msg string) {
	i.Warnings = append(i.Warnings, msg)
}
