package catman

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/shanexu/catman-election/utils"
)

type ElectionConfig struct {
	Data      []byte
	Logger    utils.Logger
	Metrics   *Metrics
	Listeners []LeaderElectionAware
}

type ElectionOption func(*ElectionConfig)

// WithData sets the payload stored with the candidate entry.
func WithData(data []byte) ElectionOption {
	return func(c *ElectionConfig) {
		c.Data = data
	}
}

func WithLogger(logger utils.Logger) ElectionOption {
	return func(c *ElectionConfig) {
		c.Logger = logger
	}
}

func WithMetrics(metrics *Metrics) ElectionOption {
	return func(c *ElectionConfig) {
		c.Metrics = metrics
	}
}

func WithListener(listener LeaderElectionAware) ElectionOption {
	return func(c *ElectionConfig) {
		c.Listeners = append(c.Listeners, listener)
	}
}

func newElectionConfig(opts []ElectionOption) *ElectionConfig {
	c := &ElectionConfig{}
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = utils.NewNopLogger()
	}
	return c
}

// Participant owns one candidate identity in one session. It registers the
// candidate, then either becomes leader or watches its predecessor, and
// re-evaluates from a fresh snapshot whenever that predecessor disappears.
//
// Mutating calls must be sequenced by the caller: the controlling goroutine
// during setup, the Dispatcher afterwards. Queries are safe from anywhere.
// Once Terminal, no transition leaves it. Listeners are called with the
// transition lock held and must not call Terminate.
type Participant struct {
	coord     Coordinator
	namespace string
	data      []byte
	log       utils.Logger
	metrics   *Metrics

	mu       sync.Mutex // serializes transitions with their side effects
	state    *atomic.Int32
	self     *atomic.String
	watching *atomic.String

	listeners []LeaderElectionAware
	ll        sync.RWMutex
}

func NewParticipant(coord Coordinator, namespace string, opts ...ElectionOption) *Participant {
	c := newElectionConfig(opts)
	return &Participant{
		coord:     coord,
		namespace: namespace,
		data:      c.Data,
		log:       c.Logger,
		metrics:   c.Metrics,
		state:     atomic.NewInt32(int32(ElectionStateUnregistered)),
		self:      atomic.NewString(""),
		watching:  atomic.NewString(""),
		listeners: c.Listeners,
	}
}

// Volunteer registers this participant as a candidate. It may be called once
// per session.
func (p *Participant) Volunteer() error {
	if !p.state.CompareAndSwap(int32(ElectionStateUnregistered), int32(ElectionStateVolunteering)) {
		if p.State() == ElectionStateTerminal {
			return ErrTerminated
		}
		return ErrAlreadyVolunteered
	}
	p.dispatchEvent(ElectionEventVolunteerStart)

	id, err := p.coord.CreateEphemeralSequential(p.namespace, p.data)
	if err != nil {
		return p.fail(classify("volunteer", err))
	}
	p.self.Store(string(id))
	p.log.Infof("volunteered for leadership as %s under %s", id, p.namespace)

	p.dispatchEvent(ElectionEventVolunteerComplete)
	return nil
}

// RunElectionCycle decides, from a fresh snapshot, whether this participant
// leads or which predecessor it must watch.
func (p *Participant) RunElectionCycle() error {
	switch p.State() {
	case ElectionStateTerminal:
		return ErrTerminated
	case ElectionStateUnregistered:
		return ErrNotVolunteered
	}
	self := p.ID()

	for {
		if p.State() == ElectionStateTerminal {
			return ErrTerminated
		}
		p.metrics.cycle()
		p.dispatchEvent(ElectionEventDetermineStart)

		children, err := p.coord.Children(p.namespace)
		if err != nil {
			return p.fail(classify("list candidates", err))
		}
		sorted := Order(children)
		pred, ok, err := PredecessorOf(self, sorted)
		if err != nil {
			return p.fail(fmt.Errorf("determine election status of %s: %w", self, err))
		}
		p.dispatchEvent(ElectionEventDetermineComplete)

		if !ok {
			if !p.becomeLeader() {
				return ErrTerminated
			}
			return nil
		}

		exists, err := p.coord.ExistsW(p.namespace, pred)
		if err != nil {
			return p.fail(classify("watch predecessor", err))
		}
		if !exists {
			p.log.Debugf("predecessor %s of %s vanished before its watch was armed", pred, self)
			p.metrics.raceRetry()
			p.dispatchEvent(ElectionEventRaceRetry)
			continue
		}

		if !p.becomeWatching(pred) {
			return ErrTerminated
		}
		return nil
	}
}

// OnPredecessorRemoved reruns the election from scratch. Any number of
// candidates may have gone at once, so nothing from the previous cycle is
// reused.
func (p *Participant) OnPredecessorRemoved() error {
	if p.State() == ElectionStateTerminal {
		return ErrTerminated
	}
	p.log.Infof("predecessor %s removed, re-running election", p.WatchTarget())
	p.metrics.predecessorRemoved()
	p.dispatchEvent(ElectionEventPredecessorRemoved)
	return p.RunElectionCycle()
}

// Terminate takes the participant out of the election after its session
// was lost or released.
func (p *Participant) Terminate(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := ElectionState(p.state.Swap(int32(ElectionStateTerminal)))
	if prev == ElectionStateTerminal {
		return
	}
	p.watching.Store("")
	p.metrics.setLeader(false)
	p.metrics.terminated(reason)
	p.log.Infof("candidate %s left the election: %s", p.ID(), reason)
	p.dispatchEvent(ElectionEventTerminated)
}

// transition moves the participant to the given state unless it has left the
// election. It returns the state it moved from.
func (p *Participant) transition(to ElectionState) (ElectionState, bool) {
	for {
		prev := p.state.Load()
		if ElectionState(prev) == ElectionStateTerminal {
			return ElectionStateTerminal, false
		}
		if p.state.CompareAndSwap(prev, int32(to)) {
			return ElectionState(prev), true
		}
	}
}

func (p *Participant) becomeLeader() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.transition(ElectionStateLeader)
	if !ok {
		p.log.Debugf("%s left the election before it could lead", p.ID())
		return false
	}
	p.watching.Store("")
	if prev == ElectionStateLeader {
		return true
	}
	p.metrics.setLeader(true)
	p.log.Infof("%s elected leader of %s", p.ID(), p.namespace)
	p.dispatchEvent(ElectionEventElected)
	return true
}

func (p *Participant) becomeWatching(pred CandidateID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.transition(ElectionStateWatching); !ok {
		return false
	}
	p.watching.Store(string(pred))
	p.log.Infof("%s is not the leader, watching %s", p.ID(), pred)
	p.dispatchEvent(ElectionEventWatching)
	return true
}

func (p *Participant) fail(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := ElectionState(p.state.Swap(int32(ElectionStateTerminal)))
	if prev == ElectionStateTerminal {
		return err
	}
	p.watching.Store("")
	p.metrics.setLeader(false)
	p.metrics.terminated(failureReason(err))
	p.log.Errorf("candidate %s failed: %v", p.ID(), err)
	p.dispatchEvent(ElectionEventFailed)
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSessionExpired):
		return "expired"
	case errors.Is(err, ErrCoordinatorUnavailable):
		return "unavailable"
	}
	return "inconsistent"
}

func (p *Participant) ID() CandidateID {
	return CandidateID(p.self.Load())
}

func (p *Participant) State() ElectionState {
	return ElectionState(p.state.Load())
}

func (p *Participant) IsLeader() bool {
	return p.State() == ElectionStateLeader
}

// WatchTarget is the predecessor currently watched, empty when none.
func (p *Participant) WatchTarget() CandidateID {
	return CandidateID(p.watching.Load())
}

// Leader looks up the current leader and its payload. It returns nil when no
// candidate is registered.
func (p *Participant) Leader() (*LeaderOffer, error) {
	children, err := p.coord.Children(p.namespace)
	if err != nil {
		return nil, classify("list candidates", err)
	}
	sorted := Order(children)
	if len(sorted) == 0 {
		return nil, nil
	}
	data, err := p.coord.Get(p.namespace, sorted[0])
	if err != nil {
		return nil, classify("get leader", err)
	}
	return NewLeaderOffer(sorted[0], data), nil
}

func (p *Participant) dispatchEvent(event ElectionEvent) {
	p.ll.RLock()
	defer p.ll.RUnlock()
	for _, observer := range p.listeners {
		observer.OnElectionEvent(event)
	}
}

func (p *Participant) AddListener(listener LeaderElectionAware) {
	p.ll.Lock()
	defer p.ll.Unlock()
	p.listeners = append(p.listeners, listener)
}

func (p *Participant) RemoveListener(listener LeaderElectionAware) {
	p.ll.Lock()
	defer p.ll.Unlock()
	i := 0
	for ; i < len(p.listeners); i++ {
		if listener == p.listeners[i] {
			break
		}
	}
	if i == len(p.listeners) {
		return
	}
	p.listeners = append(p.listeners[0:i], p.listeners[i+1:]...)
}
