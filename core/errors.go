package core

import (
	"errors"
	"fmt"
)

var (
	// ErrThreadNotFound is returned when a thread id is unknown to the store.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrThreadExists is returned when creating a thread whose id is taken.
	ErrThreadExists = errors.New("thread already exists")

	// ErrThreadRetired is returned when writing to a retired thread. Retired
	// threads keep their checkpoints readable but accept no new ones.
	ErrThreadRetired = errors.New("thread is retired")

	// ErrCheckpointNotFound is returned when a checkpoint id does not exist
	// for the given thread (or globally, for Resolve).
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrStaleParent is the compare-and-swap failure of CheckpointStore.Put:
	// the caller's assumed parent is no longer the thread's latest
	// checkpoint. The caller must reload latest and retry. This is the only
	// coordination primitive in the system.
	ErrStaleParent = errors.New("stale parent checkpoint")

	// ErrNoPending is returned by Decide when the referenced checkpoint is
	// not the thread's latest pending suspension.
	ErrNoPending = errors.New("no pending approval at checkpoint")

	// ErrSuspended is returned when an event is submitted to a thread whose
	// latest checkpoint is awaiting an approval decision. Forward progress
	// resumes only through Decide.
	ErrSuspended = errors.New("thread suspended awaiting decision")

	// ErrAmbiguousRoute signals that the deterministic rule pass produced no
	// unique target and no classifier fallback resolved it. The engine
	// transitions the thread to the clarify stage instead of guessing.
	ErrAmbiguousRoute = errors.New("ambiguous routing decision")

	// ErrTerminalStage is returned when an event is submitted to a thread
	// whose latest checkpoint is in a terminal stage. Re-opening happens via
	// Travel, never by continuing a terminal thread.
	ErrTerminalStage = errors.New("thread is in a terminal stage")
)

// PersistenceError wraps a checkpoint store failure. Callers must never
// assume partial commit: a Put either produced a visible checkpoint or it
// did not.
type PersistenceError struct {
	Op  string // "put", "get", "thread"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError wraps err as a PersistenceError for the given op.
func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// WorkerError is a typed failure raised by a worker invocation. Transient
// errors are retried against the same step with backoff (safe because Invoke
// is required to be idempotent); permanent errors abort the step and move
// the thread to the failed stage.
type WorkerError struct {
	Worker    string
	Transient bool
	Err       error
}

func (e *WorkerError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("worker %s: %s: %v", e.Worker, kind, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable worker failure.
func Transient(worker string, err error) error {
	return &WorkerError{Worker: worker, Transient: true, Err: err}
}

// Permanent wraps err as a non-retryable worker failure.
func Permanent(worker string, err error) error {
	return &WorkerError{Worker: worker, Transient: false, Err: err}
}

// IsTransient reports whether err is a retryable WorkerError.
func IsTransient(err error) bool {
	var we *WorkerError
	return errors.As(err, &we) && we.Transient
}

// OwnershipError rejects a delta touching a channel the writer does not
// own. It is raised before anything is persisted.
type OwnershipError struct {
	Writer  string
	Channel string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("writer %s does not own channel %q", e.Writer, e.Channel)
}

// UnknownChannelError rejects a delta referencing a channel absent from the
// schema.
type UnknownChannelError struct {
	Channel string
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("unknown state channel %q", e.Channel)
}
