package etcdv3

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/atomic"

	catman "github.com/shanexu/catman-election"
	"github.com/shanexu/catman-election/utils"
)

func TestCandidateID(t *testing.T) {
	id := candidateID("c_", 42)
	assert.Equal(t, catman.CandidateID("c_0000000042"), id)

	seq, err := id.Sequence()
	assert.NoError(t, err)
	assert.Equal(t, int64(42), seq)

	sorted := catman.Order([]catman.CandidateID{candidateID("c_", 1200), candidateID("c_", 7), candidateID("c_", 99)})
	assert.Equal(t, []catman.CandidateID{"c_0000000007", "c_0000000099", "c_0000001200"}, sorted)
}

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "/election/", keyPrefix("/election"))
	assert.Equal(t, "/election/", keyPrefix("/election/"))
}

func TestEtcdErr(t *testing.T) {
	assert.ErrorIs(t, etcdErr(rpctypes.ErrLeaseNotFound), catman.ErrSessionExpired)

	other := errors.New("context deadline exceeded")
	assert.Equal(t, other, etcdErr(other))
}

func newDetachedCoordinator() *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		config:  &Config{Prefix: catman.DefaultCandidatePrefix, Logger: utils.NewNopLogger()},
		mailbox: catman.NewMailbox(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func TestCoordinator_awaitDeletion(t *testing.T) {
	const id = catman.CandidateID("c_0000000042")
	tests := []struct {
		name      string
		responses []clientv3.WatchResponse
		closing   bool
		wantPosts bool
	}{
		{
			name: "delete",
			responses: []clientv3.WatchResponse{
				{Events: []*clientv3.Event{{Type: clientv3.EventTypeDelete}}},
			},
			wantPosts: true,
		},
		{
			name: "put then delete",
			responses: []clientv3.WatchResponse{
				{Events: []*clientv3.Event{{Type: clientv3.EventTypePut}}},
				{Events: []*clientv3.Event{{Type: clientv3.EventTypePut}, {Type: clientv3.EventTypeDelete}}},
			},
			wantPosts: true,
		},
		{
			name:      "compacted",
			responses: []clientv3.WatchResponse{{CompactRevision: 40}},
			wantPosts: true,
		},
		{
			name:      "compacted while closing",
			responses: []clientv3.WatchResponse{{CompactRevision: 40}},
			closing:   true,
		},
		{
			name:      "put only",
			responses: []clientv3.WatchResponse{{Events: []*clientv3.Event{{Type: clientv3.EventTypePut}}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			co := newDetachedCoordinator()
			defer co.mailbox.Close()
			if tt.closing {
				co.cancel()
			}

			wch := make(chan clientv3.WatchResponse, len(tt.responses))
			for _, wr := range tt.responses {
				wch <- wr
			}
			close(wch)

			cancelled := atomic.NewBool(false)
			done := make(chan struct{})
			go func() {
				co.awaitDeletion(id, wch, func() { cancelled.Store(true) })
				close(done)
			}()

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("awaitDeletion did not return")
			}
			assert.True(t, cancelled.Load(), "watch context released")

			select {
			case n := <-co.Notifications():
				require.True(t, tt.wantPosts, "unexpected notification %+v", n)
				assert.Equal(t, catman.NodeRemoved(id), n)
			case <-time.After(50 * time.Millisecond):
				assert.False(t, tt.wantPosts, "no notification posted")
			}
		})
	}
}
