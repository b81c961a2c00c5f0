package matrix

import (
	"sync"

	"github.com/42wim/matrixcore/id"
)

// Member is a room-local view of a User: their displayname and membership
// within one particular room. The User field is a shared handle into the
// client's user registry — the Go analogue of the teacher's
// bridge/matrix.User wrapping a shared *event.MemberEventContent.
type Member struct {
	User        *User
	Displayname *string
	Membership  Membership
}

func (m *Member) userID() id.UserID {
	if m == nil || m.User == nil {
		return ""
	}

	return m.User.ID
}

// RoomState is one projection (forward or backward) of a room's current
// state, per spec.md §3/§4.3. Forward and backward projections are
// independent RoomState values; only the fold direction differs in how
// they're mutated (spec.md §9).
type RoomState struct {
	mu sync.RWMutex

	Name     *string
	Topic    *string
	JoinRule *string

	// AliasesByServer maps an originating home server to its ordered
	// alias list, folded per spec.md §4.3.2.
	AliasesByServer map[string][]id.RoomAlias

	// LevelByUserID includes the sentinel key "default" (spec.md §3).
	LevelByUserID map[string]int

	// Levels holds action thresholds: send_event, add_state, ban, kick,
	// redact.
	Levels map[string]int

	Members map[id.UserID]*Member
}

func newRoomState() *RoomState {
	return &RoomState{
		AliasesByServer: make(map[string][]id.RoomAlias),
		LevelByUserID:   make(map[string]int),
		Levels:          make(map[string]int),
		Members:         make(map[id.UserID]*Member),
	}
}

// clone deep-copies s, used to lazily seed the backward projection from
// the forward one at the moment pagination begins (spec.md §3, §4.3.6).
func (s *RoomState) clone() *RoomState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := newRoomState()
	c.Name, c.Topic, c.JoinRule = s.Name, s.Topic, s.JoinRule

	for hs, aliases := range s.AliasesByServer {
		cp := make([]id.RoomAlias, len(aliases))
		copy(cp, aliases)
		c.AliasesByServer[hs] = cp
	}

	for k, v := range s.LevelByUserID {
		c.LevelByUserID[k] = v
	}

	for k, v := range s.Levels {
		c.Levels[k] = v
	}

	for uid, m := range s.Members {
		clone := *m
		c.Members[uid] = &clone
	}

	return c
}

// Aliases returns the multiset concatenation of every home server's alias
// list (spec.md §4.3.2, §8); order across servers is unspecified.
func (s *RoomState) Aliases() []id.RoomAlias {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []id.RoomAlias
	for _, aliases := range s.AliasesByServer {
		out = append(out, aliases...)
	}

	return out
}

// MemberLevel resolves a user's power level: their own entry if present,
// else the "default" sentinel entry (spec.md §4.3.4, §8).
func (s *RoomState) MemberLevel(uid id.UserID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if lvl, ok := s.LevelByUserID[string(uid)]; ok {
		return lvl
	}

	return s.LevelByUserID["default"]
}

// Member looks up a room member by user ID.
func (s *RoomState) Member(uid id.UserID) (*Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.Members[uid]

	return m, ok
}

// Room is the handle for one room the client participates in (spec.md
// §3). Forward is always present; Backward is created lazily on the
// first pagination request.
type Room struct {
	ID id.RoomID

	Forward *RoomState

	backMu          sync.Mutex
	Backward        *RoomState
	PaginationToken string // "", an opaque token, or the sentinel "START"

	// client is a back-reference to the owning Matrix Client, used to
	// reach the transport for pagination and to deregister the room on
	// self-leave. Go has no weak-pointer primitive in general use, so
	// this is an ordinary pointer; the client never outlives its rooms
	// in practice since the registry itself is owned by the client.
	client *Client
}

func newRoom(id id.RoomID, client *Client) *Room {
	return &Room{
		ID:      id,
		Forward: newRoomState(),
		client:  client,
	}
}

// Aliases is a convenience forward to Forward.Aliases.
func (r *Room) Aliases() []id.RoomAlias { return r.Forward.Aliases() }

// Name returns the room's display name, if any.
func (r *Room) Name() string {
	r.Forward.mu.RLock()
	defer r.Forward.mu.RUnlock()

	if r.Forward.Name == nil {
		return ""
	}

	return *r.Forward.Name
}

// ensureBackward lazily clones Forward into Backward the first time
// pagination is requested (spec.md §4.3.6 step 2).
func (r *Room) ensureBackward() *RoomState {
	r.backMu.Lock()
	defer r.backMu.Unlock()

	if r.Backward == nil {
		r.Backward = r.Forward.clone()
	}

	return r.Backward
}

// roomRegistry is the Matrix Client's room_id → Room mapping (spec.md
// §3): created on first-seen room_id or join/create, removed when the
// local user leaves.
type roomRegistry struct {
	mu    sync.RWMutex
	rooms map[id.RoomID]*Room
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{rooms: make(map[id.RoomID]*Room)}
}

func (r *roomRegistry) get(roomID id.RoomID) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]

	return room, ok
}

// getOrCreate returns the existing Room for roomID, or creates, registers
// and returns a new one. It reports whether a new Room was created.
func (r *roomRegistry) getOrCreate(roomID id.RoomID, client *Client) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[roomID]; ok {
		return room, false
	}

	room := newRoom(roomID, client)
	r.rooms[roomID] = room

	return room, true
}

func (r *roomRegistry) remove(roomID id.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rooms, roomID)
}

func (r *roomRegistry) all() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}

	return out
}
