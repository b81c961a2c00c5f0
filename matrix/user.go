package matrix

import (
	"sync"

	"github.com/42wim/matrixcore/id"
)

// User is a shared, mutable record of a remote or local account, held
// behind a pointer so every Member that references the same user_id sees
// the same struct — the translation of the teacher's shared
// *event.MemberEventContent embedding (bridge/matrix.User) into a
// dedicated owner type, since this core defines its own event-content
// shapes rather than reusing mautrix's.
type User struct {
	ID            id.UserID
	Displayname   *string
	Presence      *Presence
	LastActiveAgo *int64

	mu sync.RWMutex
}

func newUser(userID id.UserID) *User {
	return &User{ID: userID}
}

func (u *User) setDisplayname(name *string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Displayname = name
}

func (u *User) applyPresence(presence *Presence, lastActive *int64) []Change {
	u.mu.Lock()
	defer u.mu.Unlock()

	var changes []Change

	oldPresence := u.Presence
	if !presenceEqual(oldPresence, presence) {
		changes = append(changes, Change{Field: "presence", Old: ptrPresence(oldPresence), New: ptrPresence(presence)})
		u.Presence = presence
	}

	if lastActive != nil {
		u.LastActiveAgo = lastActive
	}

	return changes
}

func presenceEqual(a, b *Presence) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

func ptrPresence(p *Presence) any {
	if p == nil {
		return nil
	}

	return *p
}

// userRegistry is the Matrix Client's user_id → User mapping (spec.md §3).
// Users are created on first reference and never destroyed for the life
// of the session.
type userRegistry struct {
	mu    sync.RWMutex
	users map[id.UserID]*User
}

func newUserRegistry() *userRegistry {
	return &userRegistry{users: make(map[id.UserID]*User)}
}

// getOrCreate returns the existing User for userID, creating and
// registering one if this is the first reference.
func (r *userRegistry) getOrCreate(userID id.UserID) *User {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[userID]; ok {
		return u
	}

	u := newUser(userID)
	r.users[userID] = u

	return u
}

func (r *userRegistry) get(userID id.UserID) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]

	return u, ok
}

func (r *userRegistry) all() []*User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}

	return out
}
