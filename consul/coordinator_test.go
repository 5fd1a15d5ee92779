package consul

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catman "github.com/shanexu/catman-election"
	"github.com/shanexu/catman-election/utils"
)

func TestCandidateID(t *testing.T) {
	assert.Equal(t, catman.CandidateID("c_0000000315"), candidateID("c_", 315))
}

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "election/", keyPrefix("/election"))
	assert.Equal(t, "service/election/", keyPrefix("/service/election/"))
}

func TestRemoved(t *testing.T) {
	tests := []struct {
		name string
		pair *api.KVPair
		want bool
	}{
		{"deleted", nil, true},
		{"recreated", &api.KVPair{CreateIndex: 12, Session: "s"}, true},
		{"lock released", &api.KVPair{CreateIndex: 10}, true},
		{"still held", &api.KVPair{CreateIndex: 10, Session: "s"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, removed(tt.pair, 10))
		})
	}
}

func TestConsulErr(t *testing.T) {
	err := consulErr(errors.New("Unexpected response code: 500 (invalid session \"abc\")"))
	assert.ErrorIs(t, err, catman.ErrSessionExpired)

	other := errors.New("dial tcp 127.0.0.1:8500: connection refused")
	assert.Equal(t, other, consulErr(other))
}

// kvReply is one answer of the fake agent to a blocking KV read.
type kvReply struct {
	status int
	index  uint64
	pair   *api.KVPair
}

// kvAgent answers blocking reads of a single key from a script, then holds
// further reads until the client gives up.
type kvAgent struct {
	mu      sync.Mutex
	replies []kvReply
	indexes []string
}

func (a *kvAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.indexes = append(a.indexes, r.URL.Query().Get("index"))
	if len(a.replies) == 0 {
		a.mu.Unlock()
		<-r.Context().Done()
		return
	}
	reply := a.replies[0]
	a.replies = a.replies[1:]
	a.mu.Unlock()

	w.Header().Set("X-Consul-Index", strconv.FormatUint(reply.index, 10))
	w.Header().Set("X-Consul-LastContact", "0")
	w.Header().Set("X-Consul-KnownLeader", "true")
	if reply.status != http.StatusOK {
		w.WriteHeader(reply.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode([]*api.KVPair{reply.pair})
}

func (a *kvAgent) seen() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.indexes...)
}

func TestCoordinator_awaitDeletion(t *testing.T) {
	const (
		id  = catman.CandidateID("c_0000000005")
		key = "election/c_s1"
	)
	held := func(session string) *api.KVPair {
		return &api.KVPair{Key: key, CreateIndex: 5, ModifyIndex: 5, Session: session}
	}
	tests := []struct {
		name        string
		replies     []kvReply
		wantIndexes []string
	}{
		{
			name: "session released",
			replies: []kvReply{
				{http.StatusOK, 8, held("s1")},
				{http.StatusOK, 9, held("")},
			},
			wantIndexes: []string{"7", "8"},
		},
		{
			name: "deleted",
			replies: []kvReply{
				{http.StatusOK, 8, held("s1")},
				{http.StatusNotFound, 12, nil},
			},
			wantIndexes: []string{"7", "8"},
		},
		{
			name: "recreated",
			replies: []kvReply{
				{http.StatusOK, 14, &api.KVPair{Key: key, CreateIndex: 13, Session: "s2"}},
			},
			wantIndexes: []string{"7"},
		},
		{
			name: "agent error then deleted",
			replies: []kvReply{
				{http.StatusInternalServerError, 0, nil},
				{http.StatusNotFound, 12, nil},
			},
			wantIndexes: []string{"7", "7"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &kvAgent{replies: tt.replies}
			srv := httptest.NewServer(agent)
			t.Cleanup(srv.Close)

			client, err := api.NewClient(&api.Config{
				Address: strings.TrimPrefix(srv.URL, "http://"),
				Scheme:  "http",
			})
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)
			co := &Coordinator{
				client:    client,
				sessionID: "s1",
				config:    &Config{Prefix: catman.DefaultCandidatePrefix, Logger: utils.NewNopLogger(), RetryDelay: time.Millisecond},
				mailbox:   catman.NewMailbox(),
				expired:   make(chan struct{}),
				ctx:       ctx,
				cancel:    cancel,
			}
			defer co.mailbox.Close()

			done := make(chan struct{})
			go func() {
				co.awaitDeletion(id, key, 5, 7)
				close(done)
			}()

			select {
			case n := <-co.Notifications():
				assert.Equal(t, catman.NodeRemoved(id), n)
			case <-time.After(2 * time.Second):
				t.Fatal("removal not reported")
			}
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("awaitDeletion did not return")
			}
			assert.Equal(t, tt.wantIndexes, agent.seen())
		})
	}
}

func TestCoordinator_awaitDeletionStopsOnClose(t *testing.T) {
	agent := &kvAgent{}
	srv := httptest.NewServer(agent)
	t.Cleanup(srv.Close)

	client, err := api.NewClient(&api.Config{Address: strings.TrimPrefix(srv.URL, "http://"), Scheme: "http"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	co := &Coordinator{
		client:  client,
		config:  &Config{Logger: utils.NewNopLogger(), RetryDelay: time.Millisecond},
		mailbox: catman.NewMailbox(),
		expired: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	defer co.mailbox.Close()

	done := make(chan struct{})
	go func() {
		co.awaitDeletion("c_0000000005", "election/c_s1", 5, 7)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(agent.seen()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("awaitDeletion did not return after close")
	}
	select {
	case n := <-co.Notifications():
		t.Fatalf("unexpected notification %+v", n)
	default:
	}
}
