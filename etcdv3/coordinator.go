// Package etcdv3 runs catman elections on etcd. Each session is a lease,
// candidates are keys attached to it and a candidate's sequence is the
// revision that created its key.
package etcdv3

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	catman "github.com/shanexu/catman-election"
	"github.com/shanexu/catman-election/utils"
)

var ErrAlreadyRegistered = errors.New("session already holds a candidate key")

type Config struct {
	Prefix string
	Logger utils.Logger
}

type Option func(*Config)

func WithCandidatePrefix(prefix string) Option {
	return func(c *Config) {
		c.Prefix = prefix
	}
}

func WithLogger(logger utils.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Coordinator is an etcd backed catman.Coordinator.
type Coordinator struct {
	client  *clientv3.Client
	session *concurrency.Session
	config  *Config
	mailbox *catman.Mailbox

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ catman.Coordinator = (*Coordinator)(nil)

// Dial connects to etcd and opens a session whose lease lives for ttl
// without keepalives.
func Dial(endpoints []string, ttl time.Duration, opts ...Option) (*Coordinator, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	seconds := int(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(seconds))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create concurrency session: %w", err)
	}
	return New(cli, sess, opts...), nil
}

// New wraps an existing client and session. Close closes both.
func New(cli *clientv3.Client, sess *concurrency.Session, opts ...Option) *Coordinator {
	c := &Config{Prefix: catman.DefaultCandidatePrefix}
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = utils.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	co := &Coordinator{
		client:  cli,
		session: sess,
		config:  c,
		mailbox: catman.NewMailbox(),
		ctx:     ctx,
		cancel:  cancel,
	}
	co.mailbox.Post(catman.ConnectionStateChanged(catman.ConnectionConnected))
	go co.watchSession()
	return co
}

func (co *Coordinator) watchSession() {
	select {
	case <-co.session.Done():
		co.config.Logger.Warnf("etcd lease %x expired", int64(co.session.Lease()))
		co.mailbox.Post(catman.ConnectionStateChanged(catman.ConnectionExpired))
	case <-co.ctx.Done():
	}
}

func (co *Coordinator) CreateEphemeralSequential(namespace string, data []byte) (catman.CandidateID, error) {
	if err := co.alive(); err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s%x", keyPrefix(namespace)+co.config.Prefix, int64(co.session.Lease()))
	resp, err := co.client.Txn(co.ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(data), clientv3.WithLease(co.session.Lease()))).
		Commit()
	if err != nil {
		return "", etcdErr(err)
	}
	if !resp.Succeeded {
		return "", ErrAlreadyRegistered
	}
	return candidateID(co.config.Prefix, resp.Header.Revision), nil
}

func (co *Coordinator) Children(namespace string) ([]catman.CandidateID, error) {
	if err := co.alive(); err != nil {
		return nil, err
	}
	resp, err := co.client.Get(co.ctx, keyPrefix(namespace), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, etcdErr(err)
	}
	ids := make([]catman.CandidateID, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ids = append(ids, candidateID(co.config.Prefix, kv.CreateRevision))
	}
	return ids, nil
}

// ExistsW watches from the revision after the lookup, so a delete that
// happens after the lookup is always seen.
func (co *Coordinator) ExistsW(namespace string, id catman.CandidateID) (bool, error) {
	resp, err := co.lookup(namespace, id, clientv3.WithKeysOnly())
	if err != nil {
		return false, err
	}
	if len(resp.Kvs) == 0 {
		return false, nil
	}

	ctx, cancel := context.WithCancel(co.ctx)
	wch := co.client.Watch(ctx, string(resp.Kvs[0].Key), clientv3.WithRev(resp.Header.Revision+1))
	go co.awaitDeletion(id, wch, cancel)
	return true, nil
}

func (co *Coordinator) Get(namespace string, id catman.CandidateID) ([]byte, error) {
	resp, err := co.lookup(namespace, id)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("candidate %s not found", id)
	}
	return resp.Kvs[0].Value, nil
}

func (co *Coordinator) Notifications() <-chan catman.Notification {
	return co.mailbox.C()
}

// Close revokes the lease, which deletes the candidate key.
func (co *Coordinator) Close() error {
	var err error
	co.closeOnce.Do(func() {
		co.cancel()
		co.mailbox.Close()
		if serr := co.session.Close(); serr != nil {
			err = serr
		}
		if cerr := co.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func (co *Coordinator) lookup(namespace string, id catman.CandidateID, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	if err := co.alive(); err != nil {
		return nil, err
	}
	rev, err := id.Sequence()
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		clientv3.WithPrefix(),
		clientv3.WithMinCreateRev(rev),
		clientv3.WithMaxCreateRev(rev),
	)
	resp, err := co.client.Get(co.ctx, keyPrefix(namespace), opts...)
	if err != nil {
		return nil, etcdErr(err)
	}
	return resp, nil
}

func (co *Coordinator) awaitDeletion(id catman.CandidateID, wch clientv3.WatchChan, cancel context.CancelFunc) {
	defer cancel()
	for wr := range wch {
		if err := wr.Err(); err != nil {
			if co.ctx.Err() != nil {
				return
			}
			// the history is gone, let the participant look again
			co.config.Logger.Warnf("watch on %s: %v", id, err)
			co.mailbox.Post(catman.NodeRemoved(id))
			return
		}
		for _, ev := range wr.Events {
			if ev.Type == clientv3.EventTypeDelete {
				co.mailbox.Post(catman.NodeRemoved(id))
				return
			}
		}
	}
}

func (co *Coordinator) alive() error {
	select {
	case <-co.session.Done():
		return fmt.Errorf("%w: lease %x", catman.ErrSessionExpired, int64(co.session.Lease()))
	default:
		return nil
	}
}

func keyPrefix(namespace string) string {
	return strings.TrimSuffix(namespace, "/") + "/"
}

func candidateID(prefix string, rev int64) catman.CandidateID {
	return catman.CandidateID(fmt.Sprintf("%s%010d", prefix, rev))
}

func etcdErr(err error) error {
	if errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return fmt.Errorf("%w: %v", catman.ErrSessionExpired, err)
	}
	return err
}
