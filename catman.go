package catman

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samuel/go-zookeeper/zk"

	"github.com/shanexu/catman-election/utils"
)

var (
	OpenAclUnsafe = zk.WorldACL(zk.PermAll)
	CreatorAllAcl = zk.AuthACL(zk.PermAll)
)

const DefaultCandidatePrefix = "c_"

type CatManConfig struct {
	ACL       []zk.ACL
	Prefix    string
	Protected bool
	Logger    utils.Logger
}

type CatManOption func(*CatManConfig)

func WithACL(acl []zk.ACL) CatManOption {
	return func(c *CatManConfig) {
		c.ACL = acl
	}
}

// WithCandidatePrefix sets the name prefix of candidate znodes.
func WithCandidatePrefix(prefix string) CatManOption {
	return func(c *CatManConfig) {
		c.Prefix = prefix
	}
}

// WithProtectedCreate registers candidates with the protected ephemeral
// sequential recipe, which survives a connection loss during create without
// leaving an orphan znode.
func WithProtectedCreate() CatManOption {
	return func(c *CatManConfig) {
		c.Protected = true
	}
}

func WithCatManLogger(logger utils.Logger) CatManOption {
	return func(c *CatManConfig) {
		c.Logger = logger
	}
}

// CatMan is a ZooKeeper backed Coordinator.
type CatMan struct {
	conn    *zk.Conn
	config  *CatManConfig
	mailbox *Mailbox

	closing   chan struct{}
	closeOnce sync.Once
}

var _ Coordinator = (*CatMan)(nil)

// Dial connects to a ZooKeeper ensemble.
func Dial(servers []string, sessionTimeout time.Duration, opts ...CatManOption) (*CatMan, error) {
	c := newCatManConfig(opts)
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(c.Logger))
	if err != nil {
		return nil, fmt.Errorf("connect to zookeeper %v: %w", servers, err)
	}
	return NewCatMan(conn, events, opts...), nil
}

// NewCatMan wraps an established connection. events is the session event
// channel returned by zk.Connect; CatMan drains it for the life of the
// connection.
func NewCatMan(conn *zk.Conn, events <-chan zk.Event, opts ...CatManOption) *CatMan {
	cm := &CatMan{
		conn:    conn,
		config:  newCatManConfig(opts),
		mailbox: NewMailbox(),
		closing: make(chan struct{}),
	}
	go cm.pumpSessionEvents(events)
	return cm
}

func newCatManConfig(opts []CatManOption) *CatManConfig {
	c := &CatManConfig{
		ACL:    OpenAclUnsafe,
		Prefix: DefaultCandidatePrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = utils.NewNopLogger()
	}
	return c
}

func (cm *CatMan) Conn() *zk.Conn {
	return cm.conn
}

// EnsureNamespace creates every missing component of namespace as a
// persistent znode.
func (cm *CatMan) EnsureNamespace(namespace string) error {
	path := ""
	for _, part := range strings.Split(strings.Trim(namespace, "/"), "/") {
		if part == "" {
			continue
		}
		path += "/" + part
		_, err := cm.conn.Create(path, nil, 0, cm.config.ACL)
		if err != nil && err != zk.ErrNodeExists {
			return zkErr(err)
		}
	}
	return nil
}

func (cm *CatMan) CreateEphemeralSequential(namespace string, data []byte) (CandidateID, error) {
	prefix := candidatePath(namespace, CandidateID(cm.config.Prefix))

	var path string
	var err error
	if cm.config.Protected {
		path, err = cm.conn.CreateProtectedEphemeralSequential(prefix, data, cm.config.ACL)
	} else {
		path, err = cm.conn.Create(prefix, data, zk.FlagEphemeral|zk.FlagSequence, cm.config.ACL)
	}
	if err != nil {
		return "", zkErr(err)
	}
	return candidateFromPath(namespace, path), nil
}

func (cm *CatMan) Children(namespace string) ([]CandidateID, error) {
	children, _, err := cm.conn.Children(namespace)
	if err != nil {
		return nil, zkErr(err)
	}
	ids := make([]CandidateID, 0, len(children))
	for _, child := range children {
		ids = append(ids, CandidateID(child))
	}
	return ids, nil
}

func (cm *CatMan) ExistsW(namespace string, id CandidateID) (bool, error) {
	ok, _, events, err := cm.conn.ExistsW(candidatePath(namespace, id))
	if err != nil {
		return false, zkErr(err)
	}
	if !ok {
		return false, nil
	}
	go cm.awaitDeletion(id, events)
	return true, nil
}

func (cm *CatMan) Get(namespace string, id CandidateID) ([]byte, error) {
	data, _, err := cm.conn.Get(candidatePath(namespace, id))
	if err != nil {
		return nil, zkErr(err)
	}
	return data, nil
}

func (cm *CatMan) Notifications() <-chan Notification {
	return cm.mailbox.C()
}

// Close ends the session; ZooKeeper removes the ephemeral candidates it owns.
func (cm *CatMan) Close() error {
	cm.closeOnce.Do(func() {
		close(cm.closing)
		cm.conn.Close()
		cm.mailbox.Close()
	})
	return nil
}

func (cm *CatMan) awaitDeletion(id CandidateID, events <-chan zk.Event) {
	select {
	case e := <-events:
		switch e.Type {
		case zk.EventNodeDeleted:
		case zk.EventNotWatching:
			// the session is gone; its own event ends the election
			cm.config.Logger.Debugf("watch on %s dropped: %v", id, e.Err)
			return
		case zk.EventNodeDataChanged:
			cm.config.Logger.Debugf("watch on %s fired on data change", id)
		default:
			cm.config.Logger.Warnf("watch on %s: %v", id, &ErrUnexpectedEvent{e.Type})
		}
		// the watch is spent; the next cycle arms a new one if id is still there
		cm.mailbox.Post(NodeRemoved(id))
	case <-cm.closing:
	}
}

func (cm *CatMan) pumpSessionEvents(events <-chan zk.Event) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != zk.EventSession {
				continue
			}
			cm.config.Logger.Debugf("zookeeper session event %s on %s", e.State, e.Server)
			if state, ok := connectionStateOf(e.State); ok {
				cm.mailbox.Post(ConnectionStateChanged(state))
			}
		case <-cm.closing:
			// keep draining so the client never sees a full channel
			go func() {
				for range events {
				}
			}()
			return
		}
	}
}

func connectionStateOf(state zk.State) (ConnectionState, bool) {
	switch state {
	case zk.StateHasSession:
		return ConnectionConnected, true
	case zk.StateDisconnected:
		return ConnectionDisconnected, true
	case zk.StateExpired:
		return ConnectionExpired, true
	}
	return ConnectionUnknown, false
}

type ErrUnexpectedEvent struct {
	zk.EventType
}

func (ue *ErrUnexpectedEvent) Error() string {
	return fmt.Sprintf("unexpected event %v", ue.EventType)
}

// zkErr maps zookeeper client errors onto the coordinator error taxonomy.
func zkErr(err error) error {
	if errors.Is(err, zk.ErrSessionExpired) {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	return err
}
