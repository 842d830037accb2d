package naming

import "errors"

// ErrMalformedToolName is returned by Parse when a tool name does not match
// either the internal or the external form.
var ErrMalformedToolName = errors.New("malformed tool name")
