package audit

import "errors"

// ErrNotFound reports an unknown audit entry id.
var ErrNotFound = errors.New("not found")
