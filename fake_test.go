package catman

import (
	"fmt"
	"sync"
)

// fakeService is an in-memory coordination service shared by fake sessions.
type fakeService struct {
	mu       sync.Mutex
	seq      int64
	script   []int64
	nodes    map[CandidateID]*fakeNode
	watchers map[CandidateID][]*fakeSession
}

type fakeNode struct {
	data  []byte
	owner *fakeSession
}

func newFakeService(script ...int64) *fakeService {
	return &fakeService{
		script:   script,
		nodes:    make(map[CandidateID]*fakeNode),
		watchers: make(map[CandidateID][]*fakeSession),
	}
}

func (s *fakeService) session() *fakeSession {
	return &fakeSession{svc: s, mailbox: NewMailbox()}
}

func (s *fakeService) nextID() CandidateID {
	if len(s.script) > 0 {
		s.seq = s.script[0]
		s.script = s.script[1:]
	} else {
		s.seq++
	}
	return CandidateID(fmt.Sprintf("c_%010d", s.seq))
}

// remove deletes id and fires the watches armed on it.
func (s *fakeService) remove(id CandidateID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *fakeService) removeLocked(id CandidateID) {
	if _, ok := s.nodes[id]; !ok {
		return
	}
	delete(s.nodes, id)
	for _, w := range s.watchers[id] {
		w.mailbox.Post(NodeRemoved(id))
	}
	delete(s.watchers, id)
}

func (s *fakeService) ids() []CandidateID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []CandidateID
	for id := range s.nodes {
		ids = append(ids, id)
	}
	return ids
}

// fakeSession is one participant's view of fakeService.
type fakeSession struct {
	svc     *fakeService
	mailbox *Mailbox

	mu            sync.Mutex
	expired       bool
	unavailable   error
	beforeExists  func(id CandidateID)
	childrenCalls int
	existsCalls   int
	closeCalls    int
}

var _ Coordinator = (*fakeSession)(nil)

func (f *fakeSession) check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired {
		return fmt.Errorf("fake: %w", ErrSessionExpired)
	}
	return f.unavailable
}

func (f *fakeSession) setUnavailable(err error) {
	f.mu.Lock()
	f.unavailable = err
	f.mu.Unlock()
}

// expire drops the session's entries and reports the expiry.
func (f *fakeSession) expire() {
	f.mu.Lock()
	f.expired = true
	f.mu.Unlock()
	f.dropEntries()
	f.mailbox.Post(ConnectionStateChanged(ConnectionExpired))
}

func (f *fakeSession) dropEntries() {
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	for id, node := range f.svc.nodes {
		if node.owner == f {
			f.svc.removeLocked(id)
		}
	}
}

func (f *fakeSession) CreateEphemeralSequential(namespace string, data []byte) (CandidateID, error) {
	if err := f.check(); err != nil {
		return "", err
	}
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	id := f.svc.nextID()
	f.svc.nodes[id] = &fakeNode{data: data, owner: f}
	return id, nil
}

func (f *fakeSession) Children(namespace string) ([]CandidateID, error) {
	f.mu.Lock()
	f.childrenCalls++
	f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.svc.ids(), nil
}

func (f *fakeSession) ExistsW(namespace string, id CandidateID) (bool, error) {
	f.mu.Lock()
	f.existsCalls++
	hook := f.beforeExists
	f.beforeExists = nil
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if err := f.check(); err != nil {
		return false, err
	}
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	if _, ok := f.svc.nodes[id]; !ok {
		return false, nil
	}
	f.svc.watchers[id] = append(f.svc.watchers[id], f)
	return true, nil
}

func (f *fakeSession) Get(namespace string, id CandidateID) ([]byte, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	node, ok := f.svc.nodes[id]
	if !ok {
		return nil, fmt.Errorf("fake: no node %s", id)
	}
	return node.data, nil
}

func (f *fakeSession) Notifications() <-chan Notification {
	return f.mailbox.C()
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.dropEntries()
	f.mailbox.Close()
	return nil
}

func (f *fakeSession) calls() (children, exists, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.childrenCalls, f.existsCalls, f.closeCalls
}

// recorder collects election events.
type recorder struct {
	mu     sync.Mutex
	events []ElectionEvent
}

func (r *recorder) OnElectionEvent(event ElectionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) Events() []ElectionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ElectionEvent(nil), r.events...)
}

func (r *recorder) count(event ElectionEvent) int {
	n := 0
	for _, e := range r.Events() {
		if e == event {
			n++
		}
	}
	return n
}
