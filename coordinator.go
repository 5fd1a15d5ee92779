package catman

import (
	"errors"
	"fmt"
)

var (
	ErrSessionExpired         = errors.New("session expired")
	ErrCoordinatorUnavailable = errors.New("coordinator unavailable")
	ErrAlreadyVolunteered     = errors.New("already volunteered in this session")
	ErrNotVolunteered         = errors.New("not volunteered")
	ErrTerminated             = errors.New("participant terminated")
)

// UnavailableError reports a coordinator call that failed for a reason other
// than session expiry. It matches ErrCoordinatorUnavailable with errors.Is.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrCoordinatorUnavailable, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrCoordinatorUnavailable
}

// classify wraps a failed coordinator call into the error taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, ErrSessionExpired) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &UnavailableError{Op: op, Err: err}
}

type ConnectionState int32

const (
	ConnectionUnknown ConnectionState = iota
	ConnectionConnected
	ConnectionDisconnected
	ConnectionExpired
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionExpired:
		return "expired"
	}
	return "unknown"
}

type NotificationType int

const (
	NotificationConnectionState NotificationType = iota
	NotificationNodeRemoved
)

// Notification is a single event delivered by a Coordinator.
type Notification struct {
	Type      NotificationType
	State     ConnectionState
	Candidate CandidateID
}

func ConnectionStateChanged(state ConnectionState) Notification {
	return Notification{Type: NotificationConnectionState, State: state}
}

func NodeRemoved(id CandidateID) Notification {
	return Notification{Type: NotificationNodeRemoved, Candidate: id}
}

// Coordinator is the contract an election needs from the coordination service.
//
// Implementations return errors wrapping ErrSessionExpired once the session
// is gone; any other error is treated as the service being unavailable.
type Coordinator interface {
	// CreateEphemeralSequential registers an entry under namespace that the
	// service removes when the session ends, and returns its id.
	CreateEphemeralSequential(namespace string, data []byte) (CandidateID, error)

	// Children lists the live entries under namespace in no particular order.
	Children(namespace string) ([]CandidateID, error)

	// ExistsW reports whether id exists and, in the same step, arms a one-shot
	// watch. The removal is delivered as NodeRemoved(id) on Notifications.
	ExistsW(namespace string, id CandidateID) (bool, error)

	// Get returns the payload stored with id.
	Get(namespace string, id CandidateID) ([]byte, error)

	// Notifications is the single ordered stream of connection state changes
	// and watched removals.
	Notifications() <-chan Notification

	// Close releases the session and every entry it owns.
	Close() error
}
