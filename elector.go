package catman

import (
	"context"

	"github.com/shanexu/catman-election/utils"
)

// Elector runs one participant in one coordination session: Start volunteers
// and runs the first election cycle, Await blocks until the session ends and
// releases it.
type Elector struct {
	coord       Coordinator
	participant *Participant
	dispatcher  *Dispatcher
	session     *Session
	log         utils.Logger
	started     bool
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

func NewElector(coord Coordinator, namespace string, opts ...ElectionOption) *Elector {
	c := newElectionConfig(opts)
	participant := NewParticipant(coord, namespace, opts...)
	// leave the election before the entry goes away, so an in-flight cycle
	// can never claim leadership for a released session
	session := NewSession(closerFunc(func() error {
		participant.Terminate("released")
		return coord.Close()
	}), c.Logger)
	return &Elector{
		coord:       coord,
		participant: participant,
		dispatcher:  NewDispatcher(participant, session, c.Logger),
		session:     session,
		log:         c.Logger,
	}
}

// Start volunteers and runs the first election cycle, then hands
// notifications over to the dispatcher.
func (e *Elector) Start() error {
	if err := e.participant.Volunteer(); err != nil {
		return err
	}
	if err := e.participant.RunElectionCycle(); err != nil {
		return err
	}
	e.started = true
	go e.dispatcher.Run(e.coord.Notifications())
	return nil
}

// Await blocks until the session is disconnected, expires, fails or ctx is
// done, then releases the session and waits for the dispatcher to finish. A
// plain disconnect returns nil.
func (e *Elector) Await(ctx context.Context) error {
	err := e.session.Wait(ctx)
	if e.started {
		<-e.dispatcher.Done()
	}
	return err
}

// Run is Start followed by Await. The session is released on every path.
func (e *Elector) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		if rerr := e.session.Release(); rerr != nil {
			e.log.Warnf("release after failed start: %v", rerr)
		}
		return err
	}
	return e.Await(ctx)
}

func (e *Elector) Participant() *Participant {
	return e.participant
}

func (e *Elector) ConnectionState() ConnectionState {
	return e.dispatcher.ConnectionState()
}

// Done is closed once the session has been signaled to end.
func (e *Elector) Done() <-chan struct{} {
	return e.session.Done()
}
