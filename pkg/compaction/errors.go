package compaction

import (
	"errors"
	"fmt"
)

var (
	ErrUnresolvedFamily = errors.New("compaction: column family not resolved before version check")
)

// InvariantError is raised with panic when the decision state reaches a point
// it can only reach through a logic error. The job has to be aborted.
type InvariantError struct {
	Key []byte
	Err error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%v (key=%q)", e.Err, e.Key)
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

// RecoverInvariant turns a recovered InvariantError panic into an error and
// re-panics with anything else. Use it in a deferred call:
//
//	defer func() { err = compaction.RecoverInvariant(recover(), err) }()
func RecoverInvariant(r any, err error) error {
	if r == nil {
		return err
	}
	if ie, ok := r.(*InvariantError); ok {
		return ie
	}
	panic(r)
}
