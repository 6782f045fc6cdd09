package domain

import "errors"

// ErrNotFound is returned by stores when a record does not exist or is not
// visible to the caller.
var ErrNotFound = errors.New("record not found")
