package matrix

import (
	"sort"

	"github.com/42wim/matrixcore/id"
)

// Event type constants. Only the dotted names the room engine itself
// folds are named here; everything else flows through the dispatcher's
// generic routing (dispatcher.go).
const (
	typeRoomName           = "m.room.name"
	typeRoomTopic          = "m.room.topic"
	typeRoomJoinRules      = "m.room.join_rules"
	typeRoomAliases        = "m.room.aliases"
	typeRoomMember         = "m.room.member"
	typeRoomCreate         = "m.room.create"
	typeRoomMessage        = "m.room.message"
	typeRoomPowerLevels    = "m.room.power_levels"
	typeRoomOpsLevels      = "m.room.ops_levels"
	typeRoomSendEventLevel = "m.room.send_event_level"
	typeRoomAddStateLevel  = "m.room.add_state_level"
)

// state returns the projection a fold in direction dir should read/write.
// Callers in Backward direction must have already called ensureBackward
// (the pagination flow does this before folding a chunk).
func (r *Room) state(dir Direction) *RoomState {
	if dir == Backward {
		return r.Backward
	}

	return r.Forward
}

// stringField extracts a string-valued key from a generic content map,
// tolerating a missing or nil entry (spec.md §9's open question on
// optional prev_content generalises to every optional content field).
func stringField(m map[string]interface{}, key string) *string {
	if m == nil {
		return nil
	}

	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}

	if s, ok := v.(string); ok {
		return &s
	}

	return nil
}

// intField extracts an integer-valued key, accepting both Go int (as
// constructed by tests/initialSync decoding) and float64 (as produced by
// encoding/json for numbers with no target type).
func intField(m map[string]interface{}, key string) (int, bool) {
	if m == nil {
		return 0, false
	}

	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}

	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func strEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

// actorMember resolves the Member for an event's sender within state,
// falling back to a transient, unregistered Member wrapping the shared
// User if the sender is not (yet) a room member — e.g. a server-side
// power-level change made by an admin not present in this room's member
// projection.
func (r *Room) actorMember(state *RoomState, sender id.UserID) *Member {
	if m, ok := state.Member(sender); ok {
		return m
	}

	return &Member{User: r.client.users.getOrCreate(sender)}
}

// fold routes one event through the room engine's per-type handlers. dir
// selects the forward or backward phase; initial additionally marks the
// initial-sync phase (a strict subset of forward's mutation rules, per
// spec.md §4.3: set state, never notify).
func (r *Room) fold(ev *Event, dir Direction, initial bool, obs *RoomObserver) error {
	switch ev.Type {
	case typeRoomName:
		r.foldScalar(ev, dir, initial, "name", "name", obs)
	case typeRoomTopic:
		r.foldScalar(ev, dir, initial, "topic", "topic", obs)
	case typeRoomJoinRules:
		r.foldScalar(ev, dir, initial, "join_rule", "join_rule", obs)
	case typeRoomAliases:
		r.foldAliases(ev, dir, initial, obs)
	case typeRoomMember:
		return r.foldMembership(ev, dir, initial, obs)
	case typeRoomPowerLevels:
		r.foldPowerLevelsUnified(ev, dir, initial, obs)
	case typeRoomOpsLevels:
		r.foldLegacyLevels(ev, dir, initial, obs, map[string]string{"ban_level": "ban", "kick_level": "kick", "redact_level": "redact"})
	case typeRoomSendEventLevel:
		r.foldLegacyLevels(ev, dir, initial, obs, map[string]string{"level": "send_event"})
	case typeRoomAddStateLevel:
		r.foldLegacyLevels(ev, dir, initial, obs, map[string]string{"level": "add_state"})
	case typeRoomMessage:
		r.foldMessage(ev, dir, obs)
	case typeRoomCreate:
		r.foldCreate(dir)
	default:
		logger.Warnf("room %s: no fold handler for event type %q", r.ID, ev.Type)
	}

	return nil
}

// foldScalar implements the generic name/topic/join_rule fold from
// spec.md §4.3.1, field-name generic.
func (r *Room) foldScalar(ev *Event, dir Direction, initial bool, fieldName, contentKey string, obs *RoomObserver) {
	state := r.state(dir)

	get := func() *string {
		switch fieldName {
		case "name":
			return state.Name
		case "topic":
			return state.Topic
		default:
			return state.JoinRule
		}
	}
	set := func(v *string) {
		switch fieldName {
		case "name":
			state.Name = v
		case "topic":
			state.Topic = v
		default:
			state.JoinRule = v
		}
	}

	if initial {
		state.mu.Lock()
		set(stringField(ev.Content, contentKey))
		state.mu.Unlock()

		return
	}

	if dir == Forward {
		state.mu.Lock()
		old := get()
		newVal := stringField(ev.Content, contentKey)
		set(newVal)
		state.mu.Unlock()

		if strEqual(old, newVal) {
			return
		}

		actor := r.actorMember(state, ev.Sender)
		notifyStateChanged(obs, actor, ev, []Change{{Field: fieldName, Old: old, New: newVal}})

		return
	}

	// Backward: mutates neither projection; the backward projection's
	// Name/Topic/JoinRule keep the values cloned from Forward.
	ctVal := stringField(ev.Content, contentKey)
	prevVal := stringField(ev.PrevContent, contentKey)

	if strEqual(ctVal, prevVal) {
		return
	}

	actor := r.actorMember(state, ev.Sender)
	notifyBackStateChanged(obs, actor, ev, []Change{{Field: fieldName, Old: prevVal, New: ctVal}})
}

// foldAliases implements spec.md §4.3.2, mirrored in both directions per
// §9's resolved open question (backward also computes "others" from its
// own backward map).
func (r *Room) foldAliases(ev *Event, dir Direction, initial bool, obs *RoomObserver) {
	if ev.StateKey == nil {
		logger.Warnf("room %s: m.room.aliases with no state_key", r.ID)
		return
	}

	hs := *ev.StateKey
	state := r.state(dir)

	// Walking backward, the list this event rewinds to is its prev_content.
	src := ev.Content
	if dir == Backward {
		src = ev.PrevContent
	}

	var newList []id.RoomAlias
	if raw, ok := src["aliases"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				newList = append(newList, id.RoomAlias(s))
			}
		}
	}

	if initial {
		state.mu.Lock()
		state.AliasesByServer[hs] = newList
		state.mu.Unlock()

		return
	}

	state.mu.Lock()
	old := state.AliasesByServer[hs]
	state.AliasesByServer[hs] = newList

	var others []id.RoomAlias
	for h, aliases := range state.AliasesByServer {
		if h == hs {
			continue
		}

		others = append(others, aliases...)
	}
	state.mu.Unlock()

	actor := r.actorMember(state, ev.Sender)
	changes := []Change{
		{Field: "aliases", Old: old, New: newList},
		{Field: "aliases.others", New: others},
	}

	if dir == Forward {
		notifyStateChanged(obs, actor, ev, changes)
	} else {
		// direction-of-traversal inversion: slot holding "new" carries
		// the pre-change (older) value when walking backward, since
		// newList was read from prev_content above.
		notifyBackStateChanged(obs, actor, ev, changes)
	}
}

// normaliseMemberLogged wraps normaliseMember with the project's standard
// malformed-content handling (spec.md §7): a decode failure is logged and
// reported through the client's OnError hook, same as client.go's
// handlePresence, and ok is false so the caller drops the event.
func (r *Room) normaliseMemberLogged(ev *Event, field string, raw map[string]interface{}) (memberContent, bool) {
	mc, err := normaliseMember(raw)
	if err != nil {
		perr := &ProtocolError{EventType: ev.Type, Field: field, Err: err}
		logger.Warnf("room %s: %v", r.ID, perr)
		r.client.obs.reportError(perr, "protocol", ev.Sender)

		return memberContent{}, false
	}

	return mc, true
}

// foldMembership implements spec.md §4.3.3.
func (r *Room) foldMembership(ev *Event, dir Direction, initial bool, obs *RoomObserver) error {
	if ev.StateKey == nil {
		logger.Warnf("room %s: m.room.member with no state_key", r.ID)
		return nil
	}

	subjectID := id.UserID(*ev.StateKey)
	state := r.state(dir)

	if initial {
		state.mu.Lock()
		if _, exists := state.Members[subjectID]; exists {
			state.mu.Unlock()
			logger.Warnf("room %s: %v for %s", r.ID, ErrDuplicateMember, subjectID)

			return nil
		}

		mc, ok := r.normaliseMemberLogged(ev, "content", ev.Content)
		if !ok {
			state.mu.Unlock()
			return nil
		}

		member := &Member{User: r.client.users.getOrCreate(subjectID), Displayname: mc.Displayname}
		if mc.Membership != nil {
			member.Membership = *mc.Membership
		}

		state.Members[subjectID] = member
		state.mu.Unlock()

		return nil
	}

	old, okOld := r.normaliseMemberLogged(ev, "prev_content", ev.PrevContent)
	newC, okNew := r.normaliseMemberLogged(ev, "content", ev.Content)
	if !okOld || !okNew {
		return nil
	}

	state.mu.Lock()

	subject, exists := state.Members[subjectID]
	if !exists {
		if old.Membership != nil && dir == Forward {
			logger.Warnf("room %s: forward membership change for unknown member %s, creating", r.ID, subjectID)
		}

		subject = &Member{User: r.client.users.getOrCreate(subjectID)}
		state.Members[subjectID] = subject
	}

	var changes []Change

	var resultMembership *Membership
	var resultDisplayname *string

	if dir == Forward {
		resultMembership, resultDisplayname = newC.Membership, newC.Displayname

		if !membershipEqual(old.Membership, newC.Membership) {
			changes = append(changes, Change{Field: "membership", Old: membershipAny(old.Membership), New: membershipAny(newC.Membership)})
		}

		if !strEqual(old.Displayname, newC.Displayname) {
			changes = append(changes, Change{Field: "displayname", Old: anyOrNil(old.Displayname), New: anyOrNil(newC.Displayname)})
		}
	} else {
		resultMembership, resultDisplayname = old.Membership, old.Displayname

		if !membershipEqual(old.Membership, newC.Membership) {
			changes = append(changes, Change{Field: "membership", Old: membershipAny(newC.Membership), New: membershipAny(old.Membership)})
		}

		if !strEqual(old.Displayname, newC.Displayname) {
			changes = append(changes, Change{Field: "displayname", Old: anyOrNil(newC.Displayname), New: anyOrNil(old.Displayname)})
		}
	}

	if resultMembership != nil {
		subject.Membership = *resultMembership
		subject.Displayname = resultDisplayname
	}

	removed := resultMembership == nil
	if removed {
		delete(state.Members, subjectID)
	}

	state.mu.Unlock()

	if len(changes) == 0 {
		return nil
	}

	actor := r.actorMember(state, ev.Sender)

	if dir == Forward {
		notifyMembership(obs, actor, subject, ev, changes)

		if removed && subjectID == r.client.selfID() {
			r.client.handleSelfLeave(r)
		}
	} else {
		notifyBackMembership(obs, actor, subject, ev, changes)
	}

	return nil
}

func membershipEqual(a, b *Membership) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

func membershipAny(m *Membership) any {
	if m == nil {
		return nil
	}

	return *m
}

func anyOrNil(s *string) any {
	if s == nil {
		return nil
	}

	return *s
}

// actionKeys is the fixed set of power-level action names spec.md §4.3.4
// recognises, in the unified m.room.power_levels content.
var actionKeys = []string{"send_event", "add_state", "ban", "kick", "redact"}

func isActionKey(k string) bool {
	for _, a := range actionKeys {
		if a == k {
			return true
		}
	}

	return false
}

// foldLegacyLevels implements the pre-unification split events: each maps
// one or more wire keys directly onto an action name in RoomState.Levels.
func (r *Room) foldLegacyLevels(ev *Event, dir Direction, initial bool, obs *RoomObserver, wireToAction map[string]string) {
	state := r.state(dir)

	if initial {
		state.mu.Lock()
		for wireKey, action := range wireToAction {
			if v, ok := intField(ev.Content, wireKey); ok {
				state.Levels[action] = v
			}
		}
		state.mu.Unlock()

		return
	}

	actor := r.actorMember(state, ev.Sender)

	for wireKey, action := range wireToAction {
		newVal, newOk := intField(ev.Content, wireKey)
		prevVal, prevOk := intField(ev.PrevContent, wireKey)

		if dir == Forward {
			state.mu.Lock()
			old, hadOld := state.Levels[action]
			if !hadOld {
				old = 0
			}

			if newOk {
				state.Levels[action] = newVal
			}
			state.mu.Unlock()

			if newOk && old != newVal {
				notifyStateChanged(obs, actor, ev, []Change{{Field: "level." + action, Old: old, New: newVal}})
			}
		} else {
			if newOk && prevOk && newVal != prevVal {
				notifyBackStateChanged(obs, actor, ev, []Change{{Field: "level." + action, Old: newVal, New: prevVal}})
			}
		}
	}
}

// foldPowerLevelsUnified implements spec.md §4.3.4's current format:
// action levels folded the same way as the legacy events, plus per-user
// level changes folded membership-style.
func (r *Room) foldPowerLevelsUnified(ev *Event, dir Direction, initial bool, obs *RoomObserver) {
	state := r.state(dir)

	if initial {
		state.mu.Lock()

		for _, action := range actionKeys {
			if v, ok := intField(ev.Content, action); ok {
				state.Levels[action] = v
			}
		}

		for k, v := range ev.Content {
			if isActionKey(k) {
				continue
			}

			if n, ok := toInt(v); ok {
				state.LevelByUserID[k] = n
			}
		}

		state.mu.Unlock()

		return
	}

	actor := r.actorMember(state, ev.Sender)

	// Action levels, same mechanics as the legacy split events.
	for _, action := range actionKeys {
		newVal, newOk := intField(ev.Content, action)
		prevVal, prevOk := intField(ev.PrevContent, action)

		if dir == Forward {
			state.mu.Lock()
			old, hadOld := state.Levels[action]
			if !hadOld {
				old = 0
			}

			if newOk {
				state.Levels[action] = newVal
			}
			state.mu.Unlock()

			if newOk && old != newVal {
				notifyStateChanged(obs, actor, ev, []Change{{Field: "level." + action, Old: old, New: newVal}})
			}
		} else if newOk && prevOk && newVal != prevVal {
			notifyBackStateChanged(obs, actor, ev, []Change{{Field: "level." + action, Old: newVal, New: prevVal}})
		}
	}

	// Snapshot the live per-user levels before any mutation so
	// foldPowerLevelUsers can fall back to them when prev_content omits a
	// user (or is absent entirely, spec.md §9's Open Question on optional
	// prev_content) — the same "read live state as the old value" pattern
	// the action-level loop above and foldPowerLevelDefault use. Only
	// meaningful for Forward: Backward never mutates LevelByUserID (see
	// DESIGN.md's Open Question resolution on backward per-user folding).
	var liveBefore map[string]int
	if dir == Forward {
		state.mu.RLock()
		liveBefore = make(map[string]int, len(state.LevelByUserID))
		for k, v := range state.LevelByUserID {
			liveBefore[k] = v
		}
		state.mu.RUnlock()
	}

	// "default" participates like an action-level scalar (spec.md §4.3.4
	// treats it as a sentinel entry of level_by_userid, but only its
	// *change* needs reporting; per-user resolution already consults it
	// live via MemberLevel).
	r.foldPowerLevelDefault(ev, dir, obs, actor)

	// Per-user level changes, folded membership-style.
	r.foldPowerLevelUsers(ev, dir, obs, actor, state, liveBefore)
}

func (r *Room) foldPowerLevelDefault(ev *Event, dir Direction, obs *RoomObserver, actor *Member) {
	state := r.state(dir)

	newVal, newOk := intField(ev.Content, "default")
	prevVal, prevOk := intField(ev.PrevContent, "default")

	if dir == Forward {
		state.mu.Lock()
		old, hadOld := state.LevelByUserID["default"]
		if !hadOld {
			old = 0
		}

		if newOk {
			state.LevelByUserID["default"] = newVal
		}
		state.mu.Unlock()

		if newOk && old != newVal {
			notifyStateChanged(obs, actor, ev, []Change{{Field: "level.default", Old: old, New: newVal}})
		}

		return
	}

	if newOk && prevOk && newVal != prevVal {
		notifyBackStateChanged(obs, actor, ev, []Change{{Field: "level.default", Old: newVal, New: prevVal}})
	}
}

func (r *Room) foldPowerLevelUsers(ev *Event, dir Direction, obs *RoomObserver, actor *Member, state *RoomState, liveBefore map[string]int) {
	newLevels := userLevelsFrom(ev.Content)
	prevLevels := userLevelsFrom(ev.PrevContent)

	newDefault, hasNewDefault := newLevels["default"]
	prevDefault, hasPrevDefault := prevLevels["default"]

	seen := make(map[string]bool)

	var userIDs []string
	for k := range newLevels {
		if k == "default" || seen[k] {
			continue
		}

		seen[k] = true
		userIDs = append(userIDs, k)
	}

	for k := range prevLevels {
		if k == "default" || seen[k] {
			continue
		}

		seen[k] = true
		userIDs = append(userIDs, k)
	}

	sort.Strings(userIDs)

	for _, uid := range userIDs {
		newVal, newOk := newLevels[uid]
		prevVal, prevOk := prevLevels[uid]

		effNew := newVal
		if !newOk {
			if !hasNewDefault {
				continue
			}

			effNew = newDefault
		}

		effOld := prevVal
		if !prevOk {
			switch {
			case hasPrevDefault:
				effOld = prevDefault
			case liveBefore != nil:
				// No prev_content entry for this user (or no prev_content
				// at all): fall back to the live pre-mutation state the
				// same way MemberLevel resolves it, rather than assuming
				// nothing changed.
				if v, ok := liveBefore[uid]; ok {
					effOld = v
				} else {
					effOld = liveBefore["default"]
				}
			default:
				effOld = effNew // nothing to compare against; skip
			}
		}

		if effOld == effNew {
			continue
		}

		r.applyPowerLevelUserChange(state, dir, id.UserID(uid), newOk, newVal, actor, ev, effOld, effNew, obs)
	}
}

func (r *Room) applyPowerLevelUserChange(state *RoomState, dir Direction, uid id.UserID, newOk bool, newVal int, actor *Member, ev *Event, effOld, effNew int, obs *RoomObserver) {
	subject := r.actorMember(state, uid)

	if dir == Forward {
		state.mu.Lock()
		if newOk {
			state.LevelByUserID[string(uid)] = newVal
		} else {
			delete(state.LevelByUserID, string(uid))
		}
		state.mu.Unlock()

		notifyMembership(obs, actor, subject, ev, []Change{{Field: "level", Old: effOld, New: effNew}})

		return
	}

	notifyBackMembership(obs, actor, subject, ev, []Change{{Field: "level", Old: effNew, New: effOld}})
}

func userLevelsFrom(content map[string]interface{}) map[string]int {
	out := make(map[string]int)

	for k, v := range content {
		if isActionKey(k) {
			continue
		}

		if n, ok := toInt(v); ok {
			out[k] = n
		}
	}

	return out
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// foldMessage implements spec.md §4.3.5: no state change, just author
// lookup and notification.
func (r *Room) foldMessage(ev *Event, dir Direction, obs *RoomObserver) {
	state := r.state(dir)

	member, ok := state.Member(ev.Sender)
	if !ok {
		logger.Warnf("room %s: %v (sender %s)", r.ID, ErrUnknownMember, ev.Sender)
		return
	}

	if dir == Forward {
		notifyMessage(obs, member, ev.Content, ev)
	} else {
		notifyBackMessage(obs, member, ev.Content, ev)
	}
}

// foldCreate marks the end of history when walking backward: the
// pagination driver sets PaginationToken to the START sentinel once it
// sees this (spec.md §4.3.6 step 4). The fold itself has no state to
// mutate; room creation state (creator, federation flag) is outside this
// spec's scope.
func (r *Room) foldCreate(dir Direction) {
	if dir != Backward {
		return
	}
}
