package inspector

import "errors"

var (
	ErrNoMarker = errors.New("no marker at index")
	ErrNotOpen  = errors.New("no open inspector session")
)
