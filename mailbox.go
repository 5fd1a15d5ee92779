package catman

import (
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// Mailbox merges notifications from several producers into one ordered
// channel. Post never blocks, so it is safe to call from client callbacks
// that must not stall.
type Mailbox struct {
	mu     sync.Mutex
	queue  *linkedlistqueue.Queue
	closed bool

	ready chan struct{}
	out   chan Notification
	done  chan struct{}
	once  sync.Once
}

func NewMailbox() *Mailbox {
	m := &Mailbox{
		queue: linkedlistqueue.New(),
		ready: make(chan struct{}, 1),
		out:   make(chan Notification),
		done:  make(chan struct{}),
	}
	go m.loop()
	return m
}

// Post enqueues n. Posting to a closed mailbox is a no-op.
func (m *Mailbox) Post(n Notification) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue.Enqueue(n)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// C delivers posted notifications in order. It is closed by Close.
func (m *Mailbox) C() <-chan Notification {
	return m.out
}

// Close stops delivery and drops anything still queued.
func (m *Mailbox) Close() {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.queue.Clear()
		m.mu.Unlock()
		close(m.done)
	})
}

func (m *Mailbox) loop() {
	defer close(m.out)
	for {
		m.mu.Lock()
		v, ok := m.queue.Dequeue()
		m.mu.Unlock()

		if !ok {
			select {
			case <-m.ready:
				continue
			case <-m.done:
				return
			}
		}

		select {
		case m.out <- v.(Notification):
		case <-m.done:
			return
		}
	}
}
