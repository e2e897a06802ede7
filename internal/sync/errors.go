package sync

import (
	"errors"
	"fmt"
)

// ErrAlreadyPromoted is matched by every *AlreadyPromotedError via errors.Is.
var ErrAlreadyPromoted = errors.New("task already promoted")

// AlreadyPromotedError reports a second promotion of the same task.
type AlreadyPromotedError struct {
	TaskID  string
	EventID string
}

func (e *AlreadyPromotedError) Error() string {
	return fmt.Sprintf("task %s was already promoted to event %s", e.TaskID, e.EventID)
}

// Is lets errors.Is(err, ErrAlreadyPromoted) match.
func (e *AlreadyPromotedError) Is(target error) bool {
	return target == ErrAlreadyPromoted
}
