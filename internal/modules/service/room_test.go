package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordedEvent struct {
	Event   string
	Payload any
}

// fakeSub records everything delivered to it.
type fakeSub struct {
	id string

	mu     sync.Mutex
	events []recordedEvent
}

func newFakeSub(id string) *fakeSub { return &fakeSub{id: id} }

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{Event: event, Payload: payload})
	return nil
}

func (f *fakeSub) received(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

func newTestRegistry() RoomRegistry {
	return NewRoomRegistry(context.Background(), zap.NewNop(), nil)
}

func TestRoomRegistry_JoinIsIdempotent(t *testing.T) {
	reg := newTestRegistry()
	a := newFakeSub("a")

	reg.Join(a, "r1")
	reg.Join(a, "r1")

	assert.Equal(t, 1, reg.Members("r1"))

	reg.BroadcastToAll("r1", "ping", "x")
	assert.Equal(t, 1, a.received("ping"), "double join must not double deliveries")
}

func TestRoomRegistry_JoinLeaveRejoin(t *testing.T) {
	reg := newTestRegistry()
	a := newFakeSub("a")

	reg.Join(a, "r1")
	reg.Leave(a, "r1")
	assert.Equal(t, 0, reg.Members("r1"))

	reg.Join(a, "r1")
	assert.Equal(t, 1, reg.Members("r1"), "rejoin after leave equals a single join")
}

func TestRoomRegistry_LeaveWithoutJoin(t *testing.T) {
	reg := newTestRegistry()
	a := newFakeSub("a")

	// not an error
	reg.Leave(a, "nope")
	assert.Equal(t, 0, reg.Members("nope"))
}

func TestRoomRegistry_BroadcastToOthersExcludesOrigin(t *testing.T) {
	reg := newTestRegistry()
	a := newFakeSub("a")
	b := newFakeSub("b")
	reg.Join(a, "r1")
	reg.Join(b, "r1")

	reg.BroadcastToOthers(a, "r1", "code-sync", "print(1)")

	assert.Equal(t, 0, a.received("code-sync"))
	assert.Equal(t, 1, b.received("code-sync"))
}

func TestRoomRegistry_BroadcastToAllIncludesOrigin(t *testing.T) {
	reg := newTestRegistry()
	a := newFakeSub("a")
	b := newFakeSub("b")
	reg.Join(a, "r1")
	reg.Join(b, "r1")

	reg.BroadcastToAll("r1", "language-sync", "go")

	assert.Equal(t, 1, a.received("language-sync"))
	assert.Equal(t, 1, b.received("language-sync"))
}

func TestRoomRegistry_BroadcastToEmptyRoomIsNoOp(t *testing.T) {
	reg := newTestRegistry()

	assert.NotPanics(t, func() {
		reg.BroadcastToAll("ghost", "ping", nil)
	})
}

func TestRoomRegistry_BroadcastScopedToRoom(t *testing.T) {
	reg := newTestRegistry()
	a := newFakeSub("a")
	b := newFakeSub("b")
	reg.Join(a, "r1")
	reg.Join(b, "r2")

	reg.BroadcastToAll("r1", "ping", nil)

	assert.Equal(t, 1, a.received("ping"))
	assert.Equal(t, 0, b.received("ping"))
}

func TestRoomRegistry_DropRemovesFromAllRooms(t *testing.T) {
	reg := newTestRegistry()
	a := newFakeSub("a")
	b := newFakeSub("b")
	reg.Join(a, "r1")
	reg.Join(a, "r2")
	reg.Join(b, "r1")

	reg.Drop(a)

	assert.Equal(t, 1, reg.Members("r1"))
	assert.Equal(t, 0, reg.Members("r2"), "room emptied by drop is evicted")

	reg.BroadcastToAll("r1", "ping", nil)
	assert.Equal(t, 0, a.received("ping"))
	assert.Equal(t, 1, b.received("ping"))
}

func TestRoomRegistry_RedisRelayAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	regA := NewRoomRegistry(ctx, zap.NewNop(), redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	regB := NewRoomRegistry(ctx, zap.NewNop(), redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	remote := newFakeSub("remote")
	regB.Join(remote, "r1")

	// the subscribe loop needs a moment to attach before the publish
	assert.Eventually(t, func() bool {
		regA.BroadcastToAll("r1", "code-sync", "x = 1")
		return remote.received("code-sync") > 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRoomRegistry_RedisRelaySkipsOwnEvents(t *testing.T) {
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRoomRegistry(ctx, zap.NewNop(), redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	local := newFakeSub("local")
	reg.Join(local, "r1")

	reg.BroadcastToAll("r1", "ping", nil)

	// a relayed copy of our own event must not be delivered a second time
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, local.received("ping"))
}
