package sqlstore

import (
	"errors"
	"fmt"
)

var (
	// ErrWrongType matches every *WrongTypeError via errors.Is.
	ErrWrongType = errors.New("sqlstore: key holds another type")
	// ErrInvalidScore rejects NaN scores and increments.
	ErrInvalidScore = errors.New("sqlstore: invalid score")
	// ErrInvalidMember rejects keys and members that are not valid UTF-8.
	// Lookups pass them through JSON, which would rewrite the bytes.
	ErrInvalidMember = errors.New("sqlstore: key or member is not valid UTF-8")
	// ErrInvalidWeight rejects NaN and infinite SetOp weights.
	ErrInvalidWeight = errors.New("sqlstore: invalid weight")
)

// WrongTypeError reports a sorted-set write to a key of another type.
type WrongTypeError struct {
	Key  string
	Type string
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("sqlstore: key %q holds a %s, not a zset", e.Key, e.Type)
}

func (e *WrongTypeError) Is(target error) bool { return target == ErrWrongType }
