// Package consul runs catman elections on Consul. A session with delete
// behavior plays the ephemeral owner, candidates are KV entries acquired by
// it and a candidate's sequence is its CreateIndex.
package consul

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"

	catman "github.com/shanexu/catman-election"
	"github.com/shanexu/catman-election/utils"
)

// MinSessionTTL is the shortest TTL Consul accepts.
const MinSessionTTL = 10 * time.Second

type Config struct {
	Prefix     string
	Logger     utils.Logger
	RetryDelay time.Duration
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

// Coordinator is a Consul backed catman.Coordinator.
type Coordinator struct {
	client    *api.Client
	sessionID string
	config    *Config
	mailbox   *catman.Mailbox

	expired   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ catman.Coordinator = (*Coordinator)(nil)

// Dial connects to the Consul agent at address and creates a session.
func Dial(address string, ttl time.Duration, opts ...Option) (*Coordinator, error) {
	client, err := api.NewClient(&api.Config{
		Address: address,
		Scheme:  "http",
	})
	if err != nil {
		return nil, err
	}
	return New(client, ttl, opts...)
}

func New(client *api.Client, ttl time.Duration, opts ...Option) (*Coordinator, error) {
	c := &Config{
		Prefix:     catman.DefaultCandidatePrefix,
		RetryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = utils.NewNopLogger()
	}
	if ttl < MinSessionTTL {
		ttl = MinSessionTTL
	}

	id, _, err := client.Session().Create(&api.SessionEntry{
		Name:     "catman-election",
		Behavior: api.SessionBehaviorDelete,
		TTL:      ttl.String(),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create consul session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	co := &Coordinator{
		client:    client,
		sessionID: id,
		config:    c,
		mailbox:   catman.NewMailbox(),
		expired:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	co.mailbox.Post(catman.ConnectionStateChanged(catman.ConnectionConnected))
	go co.renew(ttl)
	return co, nil
}

func (co *Coordinator) renew(ttl time.Duration) {
	err := co.client.Session().RenewPeriodic(ttl.String(), co.sessionID, nil, co.ctx.Done())
	if co.ctx.Err() != nil {
		return
	}
	co.config.Logger.Warnf("consul session %s ended: %v", co.sessionID, err)
	close(co.expired)
	co.mailbox.Post(catman.ConnectionStateChanged(catman.ConnectionExpired))
}

func (co *Coordinator) CreateEphemeralSequential(namespace string, data []byte) (catman.CandidateID, error) {
	if err := co.alive(); err != nil {
		return "", err
	}
	key := keyPrefix(namespace) + co.config.Prefix + co.sessionID
	ok, _, err := co.client.KV().Acquire(&api.KVPair{
		Key:     key,
		Value:   data,
		Session: co.sessionID,
	}, nil)
	if err != nil {
		return "", consulErr(err)
	}
	if !ok {
		return "", fmt.Errorf("%w: acquire %s refused", catman.ErrSessionExpired, key)
	}

	pair, _, err := co.client.KV().Get(key, nil)
	if err != nil {
		return "", consulErr(err)
	}
	if pair == nil {
		return "", fmt.Errorf("%w: %s vanished after acquire", catman.ErrSessionExpired, key)
	}
	return candidateID(co.config.Prefix, pair.CreateIndex), nil
}

func (co *Coordinator) Children(namespace string) ([]catman.CandidateID, error) {
	pairs, err := co.list(namespace)
	if err != nil {
		return nil, err
	}
	ids := make([]catman.CandidateID, 0, len(pairs))
	for _, pair := range pairs {
		ids = append(ids, candidateID(co.config.Prefix, pair.CreateIndex))
	}
	return ids, nil
}

// ExistsW follows the entry with blocking queries that start at the index
// of the lookup, so no removal after the lookup is missed.
func (co *Coordinator) ExistsW(namespace string, id catman.CandidateID) (bool, error) {
	pair, index, err := co.find(namespace, id)
	if err != nil {
		return false, err
	}
	if pair == nil {
		return false, nil
	}
	go co.awaitDeletion(id, pair.Key, pair.CreateIndex, index)
	return true, nil
}

func (co *Coordinator) Get(namespace string, id catman.CandidateID) ([]byte, error) {
	pair, _, err := co.find(namespace, id)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, fmt.Errorf("candidate %s not found", id)
	}
	return pair.Value, nil
}

func (co *Coordinator) Notifications() <-chan catman.Notification {
	return co.mailbox.C()
}

// Close destroys the session, which deletes the candidate entry.
func (co *Coordinator) Close() error {
	var err error
	co.closeOnce.Do(func() {
		co.cancel()
		co.mailbox.Close()
		_, err = co.client.Session().Destroy(co.sessionID, nil)
	})
	return err
}

// list returns the live candidates, skipping entries whose lock was released.
func (co *Coordinator) list(namespace string) (api.KVPairs, error) {
	if err := co.alive(); err != nil {
		return nil, err
	}
	pairs, _, err := co.client.KV().List(keyPrefix(namespace), nil)
	if err != nil {
		return nil, consulErr(err)
	}
	live := pairs[:0]
	for _, pair := range pairs {
		if pair.Session != "" {
			live = append(live, pair)
		}
	}
	return live, nil
}

func (co *Coordinator) find(namespace string, id catman.CandidateID) (*api.KVPair, uint64, error) {
	if err := co.alive(); err != nil {
		return nil, 0, err
	}
	seq, err := id.Sequence()
	if err != nil {
		return nil, 0, err
	}
	pairs, meta, err := co.client.KV().List(keyPrefix(namespace), nil)
	if err != nil {
		return nil, 0, consulErr(err)
	}
	for _, pair := range pairs {
		if pair.CreateIndex == uint64(seq) && pair.Session != "" {
			return pair, meta.LastIndex, nil
		}
	}
	return nil, meta.LastIndex, nil
}

func (co *Coordinator) awaitDeletion(id catman.CandidateID, key string, createIndex, index uint64) {
	for {
		q := (&api.QueryOptions{WaitIndex: index}).WithContext(co.ctx)
		pair, meta, err := co.client.KV().Get(key, q)
		if co.ctx.Err() != nil {
			return
		}
		if err != nil {
			co.config.Logger.Warnf("watch on %s: %v", id, err)
			select {
			case <-time.After(co.config.RetryDelay):
				continue
			case <-co.ctx.Done():
				return
			}
		}
		if removed(pair, createIndex) {
			co.mailbox.Post(catman.NodeRemoved(id))
			return
		}
		index = meta.LastIndex
	}
}

func removed(pair *api.KVPair, createIndex uint64) bool {
	return pair == nil || pair.CreateIndex != createIndex || pair.Session == ""
}

func (co *Coordinator) alive() error {
	select {
	case <-co.expired:
		return fmt.Errorf("%w: consul session %s", catman.ErrSessionExpired, co.sessionID)
	default:
		return nil
	}
}

func keyPrefix(namespace string) string {
	return strings.Trim(namespace, "/") + "/"
}

func candidateID(prefix string, index uint64) catman.CandidateID {
	return catman.CandidateID(fmt.Sprintf("%s%010d", prefix, index))
}

func consulErr(err error) error {
	if strings.Contains(err.Error(), "invalid session") {
		return fmt.Errorf("%w: %v", catman.ErrSessionExpired, err)
	}
	return err
}
