package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/authz"
	"github.com/hivemesh/relay/internal/codec"
	relayerrors "github.com/hivemesh/relay/internal/errors"
	"github.com/hivemesh/relay/internal/model"
	"github.com/hivemesh/relay/internal/registry"
	"github.com/hivemesh/relay/internal/store"
)

// chanSink collects delivered messages for assertions
type chanSink struct {
	delivered chan *model.Message
	failAfter int
	mu        sync.Mutex
	count     int
}

func newChanSink() *chanSink {
	return &chanSink{delivered: make(chan *model.Message, 64), failAfter: -1}
}

func (s *chanSink) Deliver(msg *model.Message) error {
	s.mu.Lock()
	s.count++
	if s.failAfter >= 0 && s.count > s.failAfter {
		s.mu.Unlock()
		return errors.New("transport gone")
	}
	s.mu.Unlock()
	s.delivered <- msg
	return nil
}

func (s *chanSink) next(t *testing.T) *model.Message {
	t.Helper()
	select {
	case msg := <-s.delivered:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func (s *chanSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case msg := <-s.delivered:
		t.Fatalf("unexpected delivery: tenant=%s seq=%d", msg.TenantID, msg.SequenceNumber)
	case <-time.After(100 * time.Millisecond):
	}
}

// failingLog simulates an unavailable message log
type failingLog struct{}

func (f *failingLog) Append(ctx context.Context, tenantID, senderID string, payload []byte) (*model.Message, error) {
	return nil, errors.New("connection refused")
}

func (f *failingLog) ReadSince(ctx context.Context, tenantID string, sinceSeq uint64) ([]*model.Message, error) {
	return nil, errors.New("connection refused")
}

func (f *failingLog) Ping(ctx context.Context) error { return errors.New("connection refused") }
func (f *failingLog) Close()                         {}

func testGrants() map[model.Role][]model.Permission {
	return map[model.Role][]model.Permission{
		"member":     {model.PermissionPublish, model.PermissionSubscribe},
		"subscriber": {model.PermissionSubscribe},
		"publisher":  {model.PermissionPublish},
	}
}

func newTestHub(t *testing.T, cfg *Config, log store.MessageLog) *Hub {
	t.Helper()
	logger := zap.NewNop()
	if log == nil {
		log = store.NewInMemoryMessageLog(logger)
	}
	perms := store.NewInMemoryPermissionStore(testGrants(), logger)
	cache := store.NewInMemoryDecisionCache(100, logger)
	engine := authz.NewEngine(perms, cache, time.Minute, logger)
	reg := registry.NewTenantRegistry(logger)

	h := NewHub(cfg, reg, engine, log, nil, logger)
	t.Cleanup(h.Shutdown)
	return h
}

func member(id, tenant string) model.Principal {
	return model.Principal{PrincipalID: id, TenantID: tenant, Role: "member"}
}

func frame(t *testing.T, body string) []byte {
	t.Helper()
	raw, err := codec.Encode(&codec.Envelope{Kind: "chat", Body: []byte(body)})
	require.NoError(t, err)
	return raw
}

func TestConnectEmptyTenant(t *testing.T) {
	h := newTestHub(t, nil, nil)

	_, err := h.Connect(context.Background(), "", member("user-1", ""), newChanSink())
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeInvalidTenant, relayerrors.GetCode(err))
}

func TestConnectMissingPrincipal(t *testing.T) {
	h := newTestHub(t, nil, nil)

	_, err := h.Connect(context.Background(), "tenant-a", model.Principal{}, newChanSink())
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeUnauthenticated, relayerrors.GetCode(err))
}

func TestConnectPrincipalTenantMismatch(t *testing.T) {
	h := newTestHub(t, nil, nil)

	_, err := h.Connect(context.Background(), "tenant-a", member("user-1", "tenant-b"), newChanSink())
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeUnauthenticated, relayerrors.GetCode(err))
}

func TestConnectWithoutSubscribePermission(t *testing.T) {
	h := newTestHub(t, nil, nil)

	principal := model.Principal{PrincipalID: "user-1", TenantID: "tenant-a", Role: "publisher"}
	_, err := h.Connect(context.Background(), "tenant-a", principal, newChanSink())
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeForbidden, relayerrors.GetCode(err))
}

func TestConnectAssignsUniqueIDs(t *testing.T) {
	h := newTestHub(t, nil, nil)

	c1, err := h.Connect(context.Background(), "tenant-a", member("user-1", "tenant-a"), newChanSink())
	require.NoError(t, err)
	c2, err := h.Connect(context.Background(), "tenant-a", member("user-2", "tenant-a"), newChanSink())
	require.NoError(t, err)

	assert.NotEqual(t, c1.ConnectionID, c2.ConnectionID)
	assert.Equal(t, model.ConnectionStateActive, c1.State)
}

func TestPublishFansOutWithinTenantOnly(t *testing.T) {
	h := newTestHub(t, nil, nil)
	ctx := context.Background()

	senderSink := newChanSink()
	peerSink := newChanSink()
	otherSink := newChanSink()

	sender, err := h.Connect(ctx, "tenant-a", member("alice", "tenant-a"), senderSink)
	require.NoError(t, err)
	_, err = h.Connect(ctx, "tenant-a", member("bob", "tenant-a"), peerSink)
	require.NoError(t, err)
	_, err = h.Connect(ctx, "tenant-b", member("carol", "tenant-b"), otherSink)
	require.NoError(t, err)

	msg, err := h.Receive(ctx, sender.ConnectionID, frame(t, "hi"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.SequenceNumber)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "tenant-a", msg.TenantID)

	delivered := peerSink.next(t)
	assert.Equal(t, []byte("hi"), delivered.Payload)
	assert.Equal(t, uint64(1), delivered.SequenceNumber)

	// No echo to the sender, nothing across the tenant boundary
	senderSink.expectNone(t)
	otherSink.expectNone(t)
}

func TestPublishEchoEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Echo = true
	h := newTestHub(t, cfg, nil)
	ctx := context.Background()

	senderSink := newChanSink()
	sender, err := h.Connect(ctx, "tenant-a", member("alice", "tenant-a"), senderSink)
	require.NoError(t, err)

	_, err = h.Receive(ctx, sender.ConnectionID, frame(t, "hello me"))
	require.NoError(t, err)

	delivered := senderSink.next(t)
	assert.Equal(t, []byte("hello me"), delivered.Payload)
}

func TestSequenceNumbersPerTenant(t *testing.T) {
	h := newTestHub(t, nil, nil)
	ctx := context.Background()

	a, err := h.Connect(ctx, "tenant-a", member("alice", "tenant-a"), newChanSink())
	require.NoError(t, err)
	b, err := h.Connect(ctx, "tenant-b", member("bob", "tenant-b"), newChanSink())
	require.NoError(t, err)

	m1, err := h.Receive(ctx, a.ConnectionID, frame(t, "a1"))
	require.NoError(t, err)
	m2, err := h.Receive(ctx, a.ConnectionID, frame(t, "a2"))
	require.NoError(t, err)
	m3, err := h.Receive(ctx, b.ConnectionID, frame(t, "b1"))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), m1.SequenceNumber)
	assert.Equal(t, uint64(2), m2.SequenceNumber)
	// Each tenant has its own sequence
	assert.Equal(t, uint64(1), m3.SequenceNumber)
}

func TestConcurrentPublishesKeepSequenceGapFree(t *testing.T) {
	h := newTestHub(t, nil, nil)
	ctx := context.Background()

	conns := make([]*model.Connection, 4)
	for i := range conns {
		c, err := h.Connect(ctx, "tenant-a", member(fmt.Sprintf("user-%d", i), "tenant-a"), newChanSink())
		require.NoError(t, err)
		conns[i] = c
	}

	const perConn = 25
	var wg sync.WaitGroup
	seqs := make(chan uint64, len(conns)*perConn)
	for _, c := range conns {
		wg.Add(1)
		go func(connID string) {
			defer wg.Done()
			for i := 0; i < perConn; i++ {
				msg, err := h.Receive(ctx, connID, frame(t, "x"))
				if err != nil {
					t.Errorf("receive failed: %v", err)
					return
				}
				seqs <- msg.SequenceNumber
			}
		}(c.ConnectionID)
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool)
	for seq := range seqs {
		assert.False(t, seen[seq], "sequence number %d assigned twice", seq)
		seen[seq] = true
	}
	require.Len(t, seen, len(conns)*perConn)
	for i := uint64(1); i <= uint64(len(conns)*perConn); i++ {
		assert.True(t, seen[i], "sequence number %d missing", i)
	}
}

func TestReceiveMalformedFrameKeepsConnectionActive(t *testing.T) {
	h := newTestHub(t, nil, nil)
	ctx := context.Background()

	conn, err := h.Connect(ctx, "tenant-a", member("alice", "tenant-a"), newChanSink())
	require.NoError(t, err)

	_, err = h.Receive(ctx, conn.ConnectionID, []byte{0xc1})
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeMalformedMessage, relayerrors.GetCode(err))

	// The connection survives and the next publish works
	msg, err := h.Receive(ctx, conn.ConnectionID, frame(t, "still here"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.SequenceNumber)
}

func TestReceiveWithoutPublishPermission(t *testing.T) {
	h := newTestHub(t, nil, nil)
	ctx := context.Background()

	principal := model.Principal{PrincipalID: "watcher", TenantID: "tenant-a", Role: "subscriber"}
	conn, err := h.Connect(ctx, "tenant-a", principal, newChanSink())
	require.NoError(t, err)

	_, err = h.Receive(ctx, conn.ConnectionID, frame(t, "nope"))
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeForbidden, relayerrors.GetCode(err))
}

func TestReceiveStorageUnavailable(t *testing.T) {
	h := newTestHub(t, nil, &failingLog{})
	ctx := context.Background()

	conn, err := h.Connect(ctx, "tenant-a", member("alice", "tenant-a"), newChanSink())
	require.NoError(t, err)

	_, err = h.Receive(ctx, conn.ConnectionID, frame(t, "hi"))
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeStorageUnavailable, relayerrors.GetCode(err))

	// Per-message failure: the connection stays usable
	_, err = h.Receive(ctx, conn.ConnectionID, frame(t, "again"))
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeStorageUnavailable, relayerrors.GetCode(err))
}

func TestReceiveUnknownConnection(t *testing.T) {
	h := newTestHub(t, nil, nil)

	_, err := h.Receive(context.Background(), "missing", frame(t, "hi"))
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeNotFound, relayerrors.GetCode(err))
}

func TestDisconnect(t *testing.T) {
	h := newTestHub(t, nil, nil)
	ctx := context.Background()

	conn, err := h.Connect(ctx, "tenant-a", member("alice", "tenant-a"), newChanSink())
	require.NoError(t, err)

	require.NoError(t, h.Disconnect(conn.ConnectionID))

	// Idempotent
	require.NoError(t, h.Disconnect(conn.ConnectionID))

	// The identifier refers to a closed connection, never a new one
	_, err = h.Receive(ctx, conn.ConnectionID, frame(t, "hi"))
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeConnectionClosed, relayerrors.GetCode(err))
}

func TestDisconnectUnknownConnection(t *testing.T) {
	h := newTestHub(t, nil, nil)

	err := h.Disconnect("never-existed")
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeNotFound, relayerrors.GetCode(err))
}

func TestDisconnectedMemberExcludedFromFanOut(t *testing.T) {
	h := newTestHub(t, nil, nil)
	ctx := context.Background()

	sender, err := h.Connect(ctx, "tenant-a", member("alice", "tenant-a"), newChanSink())
	require.NoError(t, err)
	peerSink := newChanSink()
	peer, err := h.Connect(ctx, "tenant-a", member("bob", "tenant-a"), peerSink)
	require.NoError(t, err)

	require.NoError(t, h.Disconnect(peer.ConnectionID))

	_, err = h.Receive(ctx, sender.ConnectionID, frame(t, "hi"))
	require.NoError(t, err)

	peerSink.expectNone(t)
}

func TestDeliverFailureClosesConnection(t *testing.T) {
	h := newTestHub(t, nil, nil)
	ctx := context.Background()

	sender, err := h.Connect(ctx, "tenant-a", member("alice", "tenant-a"), newChanSink())
	require.NoError(t, err)

	brokenSink := newChanSink()
	brokenSink.failAfter = 0
	peer, err := h.Connect(ctx, "tenant-a", member("bob", "tenant-a"), brokenSink)
	require.NoError(t, err)

	_, err = h.Receive(ctx, sender.ConnectionID, frame(t, "hi"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := h.Connection(peer.ConnectionID)
		return relayerrors.GetCode(err) == relayerrors.ErrCodeConnectionClosed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownClosesAllConnections(t *testing.T) {
	h := newTestHub(t, nil, nil)
	ctx := context.Background()

	c1, err := h.Connect(ctx, "tenant-a", member("alice", "tenant-a"), newChanSink())
	require.NoError(t, err)
	c2, err := h.Connect(ctx, "tenant-b", member("bob", "tenant-b"), newChanSink())
	require.NoError(t, err)

	h.Shutdown()

	for _, id := range []string{c1.ConnectionID, c2.ConnectionID} {
		_, err := h.Connection(id)
		assert.Equal(t, relayerrors.ErrCodeConnectionClosed, relayerrors.GetCode(err))
	}
}

// stallSink blocks inside Deliver until released, to observe deliveries
// that are still in flight
type stallSink struct {
	entered  chan struct{}
	release  chan struct{}
	finished chan struct{}
}

func (s *stallSink) Deliver(msg *model.Message) error {
	close(s.entered)
	<-s.release
	close(s.finished)
	return nil
}

func TestDisconnectWaitsForInFlightDelivery(t *testing.T) {
	h := newTestHub(t, nil, nil)
	ctx := context.Background()

	sender, err := h.Connect(ctx, "tenant-a", member("alice", "tenant-a"), newChanSink())
	require.NoError(t, err)

	sink := &stallSink{
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
		finished: make(chan struct{}),
	}
	peer, err := h.Connect(ctx, "tenant-a", member("bob", "tenant-a"), sink)
	require.NoError(t, err)

	_, err = h.Receive(ctx, sender.ConnectionID, frame(t, "hi"))
	require.NoError(t, err)

	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never started")
	}

	returned := make(chan struct{})
	go func() {
		assert.NoError(t, h.Disconnect(peer.ConnectionID))
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("disconnect returned while a delivery was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(sink.release)

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect did not return after the delivery finished")
	}

	select {
	case <-sink.finished:
	default:
		t.Fatal("disconnect returned before the delivery finished")
	}
}

// blockingResolver never answers; connect must give up on its own timeout
type blockingResolver struct{}

func (blockingResolver) ResolveTenant(ctx context.Context, tenantID string) error {
	<-ctx.Done()
	return ctx.Err()
}

// failingResolver rejects every tenant
type failingResolver struct{}

func (failingResolver) ResolveTenant(ctx context.Context, tenantID string) error {
	return errors.New("tenant lookup unavailable")
}

func newResolverHub(t *testing.T, resolver TenantResolver) *Hub {
	t.Helper()
	logger := zap.NewNop()
	log := store.NewInMemoryMessageLog(logger)
	perms := store.NewInMemoryPermissionStore(testGrants(), logger)
	cache := store.NewInMemoryDecisionCache(100, logger)
	engine := authz.NewEngine(perms, cache, time.Minute, logger)
	reg := registry.NewTenantRegistry(logger)

	cfg := DefaultConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond

	h := NewHub(cfg, reg, engine, log, resolver, logger)
	t.Cleanup(h.Shutdown)
	return h
}

func TestConnectResolverTimeout(t *testing.T) {
	h := newResolverHub(t, blockingResolver{})

	_, err := h.Connect(context.Background(), "tenant-a", member("alice", "tenant-a"), newChanSink())
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeConnectTimeout, relayerrors.GetCode(err))
	assert.Empty(t, h.registry.MembersOf("tenant-a"))
}

func TestConnectResolverFailure(t *testing.T) {
	h := newResolverHub(t, failingResolver{})

	_, err := h.Connect(context.Background(), "tenant-a", member("alice", "tenant-a"), newChanSink())
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeInvalidTenant, relayerrors.GetCode(err))
	assert.Empty(t, h.registry.MembersOf("tenant-a"))
}

func TestRegistryMemberAlwaysDeliverable(t *testing.T) {
	h := newTestHub(t, nil, nil)
	ctx := context.Background()

	stop := make(chan struct{})
	var checker sync.WaitGroup
	checker.Add(1)
	go func() {
		defer checker.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, id := range h.registry.MembersOf("tenant-a") {
				if _, err := h.Connection(id); err != nil {
					t.Errorf("registry member %s is not deliverable: %v", id, err)
					return
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.Connect(ctx, "tenant-a", member(fmt.Sprintf("user-%d", i), "tenant-a"), newChanSink())
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	close(stop)
	checker.Wait()

	assert.Len(t, h.registry.MembersOf("tenant-a"), 50)
}

func TestOrderingPreservedPerTenant(t *testing.T) {
	h := newTestHub(t, nil, nil)
	ctx := context.Background()

	sender, err := h.Connect(ctx, "tenant-a", member("alice", "tenant-a"), newChanSink())
	require.NoError(t, err)
	peerSink := newChanSink()
	_, err = h.Connect(ctx, "tenant-a", member("bob", "tenant-a"), peerSink)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := h.Receive(ctx, sender.ConnectionID, frame(t, fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	for i := uint64(1); i <= 10; i++ {
		msg := peerSink.next(t)
		assert.Equal(t, i, msg.SequenceNumber)
	}
}
