package catman

import (
	"go.uber.org/atomic"

	"github.com/shanexu/catman-election/utils"
)

// Dispatcher feeds coordinator notifications into a Participant one at a
// time. A removal is handled to completion, including the election cycle it
// triggers, before the next notification is read.
type Dispatcher struct {
	participant *Participant
	session     *Session
	log         utils.Logger
	state       *atomic.Int32
	done        chan struct{}
}

func NewDispatcher(participant *Participant, session *Session, logger utils.Logger) *Dispatcher {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Dispatcher{
		participant: participant,
		session:     session,
		log:         logger,
		state:       atomic.NewInt32(int32(ConnectionUnknown)),
		done:        make(chan struct{}),
	}
}

// Run dispatches until events is closed or the session is released. It
// must be called at most once.
func (d *Dispatcher) Run(events <-chan Notification) {
	defer close(d.done)
	for {
		select {
		case n, ok := <-events:
			if !ok {
				return
			}
			d.Dispatch(n)
		case <-d.session.Released():
			return
		}
	}
}

// Done is closed when Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) Dispatch(n Notification) {
	switch n.Type {
	case NotificationConnectionState:
		d.onConnectionState(n.State)
	case NotificationNodeRemoved:
		d.onNodeRemoved(n.Candidate)
	default:
		d.log.Warnf("ignoring notification of unknown type %d", n.Type)
	}
}

func (d *Dispatcher) ConnectionState() ConnectionState {
	return ConnectionState(d.state.Load())
}

func (d *Dispatcher) onConnectionState(state ConnectionState) {
	d.state.Store(int32(state))
	switch state {
	case ConnectionConnected:
		d.log.Infof("connected to coordination service")
	case ConnectionDisconnected:
		d.log.Warnf("disconnected from coordination service")
		d.participant.Terminate("disconnected")
		d.session.Signal(nil)
	case ConnectionExpired:
		d.log.Warnf("coordination session expired")
		d.participant.Terminate("expired")
		d.session.Signal(ErrSessionExpired)
	}
}

func (d *Dispatcher) onNodeRemoved(id CandidateID) {
	target := d.participant.WatchTarget()
	if target == "" || id != target {
		d.log.Debugf("ignoring removal of %s, watching %q", id, target)
		return
	}
	if err := d.participant.OnPredecessorRemoved(); err != nil {
		d.session.Signal(err)
	}
}
