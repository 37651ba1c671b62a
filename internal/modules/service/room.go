package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Subscriber is one attached client able to receive room events. The
// transport layer owns the concrete implementation.
type Subscriber interface {
	ID() string
	Send(event string, payload any) error
}

type RoomRegistry interface {
	// Join adds sub to the room, creating the room on first join. Joining a
	// room the subscriber is already a member of is a no-op.
	Join(sub Subscriber, roomID string)
	// Leave removes sub from the room. Leaving a room the subscriber is not a
	// member of is a no-op.
	Leave(sub Subscriber, roomID string)
	// Drop removes sub from every room it joined. Called on detach; no
	// per-room leave events are emitted.
	Drop(sub Subscriber)
	BroadcastToAll(roomID, event string, payload any)
	BroadcastToOthers(origin Subscriber, roomID, event string, payload any)
	Members(roomID string) int
}

const roomEventsChannel = "codehive:room-events"

// relayEnvelope carries a broadcast across instances over Redis pub/sub.
type relayEnvelope struct {
	Instance string          `json:"instance"`
	RoomID   string          `json:"roomId"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	SkipID   string          `json:"skipId,omitempty"`
}

type roomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber

	log        *zap.Logger
	instanceID string
	rdb        *redis.Client
}

// NewRoomRegistry builds the in-process registry. A non-nil rdb enables the
// cross-instance relay: every broadcast is mirrored onto a Redis channel and
// a background loop delivers broadcasts from other instances to local
// members. The loop stops when ctx is cancelled.
func NewRoomRegistry(ctx context.Context, log *zap.Logger, rdb *redis.Client) RoomRegistry {
	r := &roomRegistry{
		rooms:      make(map[string]map[string]Subscriber),
		log:        log,
		instanceID: uuid.NewString(),
		rdb:        rdb,
	}
	if rdb != nil {
		go r.consumeRemote(ctx)
	}
	return r
}

func (r *roomRegistry) Join(sub Subscriber, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Subscriber)
		r.rooms[roomID] = members
	}
	members[sub.ID()] = sub
}

func (r *roomRegistry) Leave(sub Subscriber, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, sub.ID())
	// empty rooms are not retained
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

func (r *roomRegistry) Drop(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID, members := range r.rooms {
		delete(members, sub.ID())
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

func (r *roomRegistry) Members(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

func (r *roomRegistry) BroadcastToAll(roomID, event string, payload any) {
	r.deliver(roomID, event, payload, "")
	r.publishRemote(roomID, event, payload, "")
}

func (r *roomRegistry) BroadcastToOthers(origin Subscriber, roomID, event string, payload any) {
	r.deliver(roomID, event, payload, origin.ID())
	r.publishRemote(roomID, event, payload, origin.ID())
}

// deliver fans payload out to the room's local members. Broadcasting to a
// missing or empty room is a silent no-op.
func (r *roomRegistry) deliver(roomID, event string, payload any, skipID string) {
	r.mu.RLock()
	members := make([]Subscriber, 0, len(r.rooms[roomID]))
	for _, s := range r.rooms[roomID] {
		members = append(members, s)
	}
	r.mu.RUnlock()

	for _, s := range members {
		if skipID != "" && s.ID() == skipID {
			continue
		}
		if err := s.Send(event, payload); err != nil {
			r.log.Sugar().Debugw("room delivery failed",
				"room", roomID, "event", event, "subscriber", s.ID(), "err", err)
		}
	}
}

func (r *roomRegistry) publishRemote(roomID, event string, payload any, skipID string) {
	if r.rdb == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		r.log.Sugar().Warnw("room event relay marshal failed", "event", event, "err", err)
		return
	}
	body, err := json.Marshal(relayEnvelope{
		Instance: r.instanceID,
		RoomID:   roomID,
		Event:    event,
		Payload:  raw,
		SkipID:   skipID,
	})
	if err != nil {
		r.log.Sugar().Warnw("room event relay marshal failed", "event", event, "err", err)
		return
	}
	if err := r.rdb.Publish(context.Background(), roomEventsChannel, body).Err(); err != nil {
		r.log.Sugar().Warnw("room event relay publish failed", "event", event, "err", err)
	}
}

func (r *roomRegistry) consumeRemote(ctx context.Context) {
	sub := r.rdb.Subscribe(ctx, roomEventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Sugar().Warnw("room event relay decode failed", "err", err)
				continue
			}
			if env.Instance == r.instanceID {
				continue
			}
			r.deliver(env.RoomID, env.Event, env.Payload, env.SkipID)
		}
	}
}
