package timeline

import "errors"

// ErrInvalidInput marks validation failures on caller-supplied data. The
// surface layer maps it to a 400-class response with the wrapped detail.
var ErrInvalidInput = errors.New("timeline: invalid input")

// Absent entities are never errors: lookups return (nil, nil) and deletions
// report a boolean, per the degrade-over-crash policy for stored records.
