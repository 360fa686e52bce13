package mesh

import (
	"sync"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
)

const roomHistoryCap = 200

// RoomRegistry holds in-memory chat rooms. Rooms and their membership
// do not persist across restarts; members are added only through Join.
type RoomRegistry struct {
	mu    sync.Mutex
	rooms map[string]*domain.Room
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]*domain.Room)}
}

func (r *RoomRegistry) Create(id, name string) *domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := &domain.Room{ID: id, Name: name}
	r.rooms[id] = room
	return room
}

// Join admits instanceID to a room's member list. Room operations are
// only valid among Connected peers, so the caller must supply the
// current connected set; a not-currently-connected instance ID is
// rejected rather than silently added to membership.
func (r *RoomRegistry) Join(roomID, instanceID string, connected map[string]bool) (*domain.Room, error) {
	if !connected[instanceID] {
		return nil, domain.ErrNotConnected
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	for _, m := range room.Members {
		if m == instanceID {
			return room, nil
		}
	}
	room.Members = append(room.Members, instanceID)
	return room, nil
}

func (r *RoomRegistry) Get(roomID string) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

func (r *RoomRegistry) List() []domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, *room)
	}
	return out
}

// Append records a message in a room's bounded history and returns
// the member instance ids present in connected, the ones it should be
// fanned out to; the caller delivers to each.
func (r *RoomRegistry) Append(roomID string, msg domain.MeshMessage, connected map[string]bool) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}

	msg.RoomID = roomID
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	room.History = append(room.History, msg)
	if len(room.History) > roomHistoryCap {
		room.History = room.History[len(room.History)-roomHistoryCap:]
	}

	var targets []string
	for _, m := range room.Members {
		if connected[m] {
			targets = append(targets, m)
			room.DeliveredTo++
		}
	}
	return targets, nil
}
