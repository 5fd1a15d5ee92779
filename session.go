package catman

import (
	"context"
	"io"
	"sync"

	"go.uber.org/atomic"

	"github.com/shanexu/catman-election/utils"
)

// Session parks the controlling goroutine until the coordination session
// ends, then releases it. Signal may come before or after Wait starts and
// any number of times; only the first cause is kept.
type Session struct {
	closer io.Closer
	log    utils.Logger

	signalOnce sync.Once
	done       chan struct{}
	cause      *atomic.Error

	releaseOnce sync.Once
	released    chan struct{}
	releaseErr  error
}

func NewSession(closer io.Closer, logger utils.Logger) *Session {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Session{
		closer:   closer,
		log:      logger,
		done:     make(chan struct{}),
		cause:    atomic.NewError(nil),
		released: make(chan struct{}),
	}
}

// Signal marks the session as terminated. A nil cause is a normal
// disconnect.
func (s *Session) Signal(cause error) {
	s.signalOnce.Do(func() {
		s.cause.Store(cause)
		close(s.done)
	})
}

// Done is closed once Signal has been called.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Released is closed once the session has been released.
func (s *Session) Released() <-chan struct{} {
	return s.released
}

// Err returns the termination cause, nil until signaled or for a plain
// disconnect.
func (s *Session) Err() error {
	return s.cause.Load()
}

// Wait blocks until the session is signaled or ctx is done, releases the
// session and returns why it ended.
func (s *Session) Wait(ctx context.Context) (err error) {
	defer func() {
		if rerr := s.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		s.log.Warnf("interrupted while waiting for session to end: %v", ctx.Err())
		return ctx.Err()
	}
}

// Release closes the underlying coordinator exactly once.
func (s *Session) Release() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.closer.Close()
		if s.releaseErr != nil {
			s.log.Warnf("release session: %v", s.releaseErr)
		} else {
			s.log.Infof("session released")
		}
		close(s.released)
	})
	return s.releaseErr
}
