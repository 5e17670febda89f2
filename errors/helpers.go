package errors

// WrapOpComponent tags err with op and component. A wrapped SyncError keeps
// its code, kind and retryability. A nil err stays nil.
func WrapOpComponent(err error, op, component string) error {
	if err == nil {
		return nil
	}
	return E(Op(op), Component(component), err)
}

// WrapStorage reports a failed store call as a persistence error of op.
// storeOp names the backend call, component the backend.
func WrapStorage(err error, op Operation, storeOp, component string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(op, WrapOpComponent(err, storeOp, component))
}
