package merge

import "errors"

var (
	ErrModuleClosed   = errors.New("merge module is closed")
	ErrUnknownAddress = errors.New("unknown address")
	ErrOutOfRange     = errors.New("offset out of range")
	ErrNoSuchPosition = errors.New("no such position")
	ErrNothingToUndo  = errors.New("nothing to undo")
	ErrNothingToRedo  = errors.New("nothing to redo")
)
