package engine

import (
	"errors"
	"fmt"
)

// Store-level errors. Port implementations return (or wrap) these so the
// engine can tell an authorization denial from a generic failure.
var (
	ErrPermission = errors.New("permission denied")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// Operation errors.
var (
	ErrNoActiveRoom = errors.New("no active room")
	ErrLookup       = errors.New("catalog lookup failed")
	ErrInsert       = errors.New("queue insert failed")
	ErrStuckQueue   = errors.New("queue is stuck on the same entry")
	ErrCodeTaken    = errors.New("room code already taken")
	ErrNotOwner     = errors.New("room is owned by someone else")
	ErrSyncWrite    = errors.New("playback state was not saved")
	ErrDecode       = errors.New("malformed queue row")
	ErrGhostControl = errors.New("room control lost")
)

// OpError records which operation failed, the engine error kind and the
// underlying cause. errors.Is matches both Kind and Err.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case e.Kind == nil && e.Err == nil:
		return e.Op + ": failed"
	case e.Kind == nil:
		return e.Op + ": " + e.Err.Error()
	case e.Err == nil || errors.Is(e.Err, e.Kind) && e.Err.Error() == e.Kind.Error():
		return e.Op + ": " + e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func opErr(op string, kind, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}

// storeKind classifies a store error into the engine kind it surfaces as.
func storeKind(err error) error {
	switch {
	case errors.Is(err, ErrPermission):
		return ErrPermission
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	}
	return nil
}

// UserMessage renders err as the text shown to a person. Ownership problems
// get an actionable message; everything else names the failed operation and
// its cause.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrGhostControl):
		return "Session control lost: you are not the owner of this room. A new session will be started."
	case errors.Is(err, ErrPermission), errors.Is(err, ErrNotOwner):
		return "You don't own this room. Start a new session to take control of playback."
	case errors.Is(err, ErrCodeTaken):
		return "That room code is already in use. Try another one."
	case errors.Is(err, ErrNoActiveRoom):
		return "No room is active. Join or create a room first."
	case errors.Is(err, ErrStuckQueue):
		return "Session stuck: unable to advance the queue. Start a new session."
	}
	var op *OpError
	if errors.As(err, &op) {
		cause := op.Err
		if cause == nil {
			cause = op.Kind
		}
		if cause == nil {
			return op.Op + " failed"
		}
		return fmt.Sprintf("%s failed: %v", op.Op, cause)
	}
	return err.Error()
}
