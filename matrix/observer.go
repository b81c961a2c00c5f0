package matrix

import "fmt"

// Change describes a single field's before/after pair, per spec.md §6's
// "field → [slot0, slot1]" convention: slot1 always holds the value in the
// direction of traversal (new for forward, old for backward).
type Change struct {
	Field string
	Old   any
	New   any
}

// ClientObserver is the client-level observer surface from spec.md §6.
// Every method is optional; a nil field is simply not invoked. Fields
// that return an awaitable in the source (observer callbacks that
// themselves perform async work) are plain synchronous funcs here — a
// caller that wants to do async work from a hook spawns its own goroutine
// and handles that work's failures itself, rather than the engine
// adopting a foreign future (spec.md §9's "adopted future" concept,
// translated to Go's one-goroutine-per-async-hook idiom).
type ClientObserver struct {
	OnLog          func(message string)
	OnPresence     func(user *User, changes []Change)
	OnRoomNew      func(room *Room)
	OnRoomDel      func(room *Room)
	OnInvite       func(ev *Event)
	OnUnknownEvent func(ev *Event)
	OnError        func(err error, kind string, context ...any)
}

func (o *ClientObserver) log(format string, args ...any) {
	if o == nil || o.OnLog == nil {
		return
	}

	o.OnLog(fmt.Sprintf(format, args...))
}

func (o *ClientObserver) reportError(err error, kind string, context ...any) {
	if o == nil || o.OnError == nil {
		return
	}

	o.OnError(err, kind, context...)
}

// RoomObserver is the room-level observer surface from spec.md §6.
type RoomObserver struct {
	OnSyncedState     func(room *Room)
	OnMessage         func(member *Member, content map[string]interface{}, ev *Event)
	OnBackMessage     func(member *Member, content map[string]interface{}, ev *Event)
	OnMembership      func(actor, subject *Member, ev *Event, changes []Change)
	OnBackMembership  func(actor, subject *Member, ev *Event, changes []Change)
	OnStateChanged    func(actor *Member, ev *Event, changes []Change)
	OnBackStateChanged func(actor *Member, ev *Event, changes []Change)
	OnPresence        func(member *Member, changes []Change)
}
