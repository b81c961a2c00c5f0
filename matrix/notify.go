package matrix

// notify* helpers guard against a nil RoomObserver or a nil specific hook,
// the same "every callback is optional" discipline spec.md §6 describes
// for the observer surface.

func notifyStateChanged(obs *RoomObserver, actor *Member, ev *Event, changes []Change) {
	if obs == nil || obs.OnStateChanged == nil {
		return
	}

	obs.OnStateChanged(actor, ev, changes)
}

func notifyBackStateChanged(obs *RoomObserver, actor *Member, ev *Event, changes []Change) {
	if obs == nil || obs.OnBackStateChanged == nil {
		return
	}

	obs.OnBackStateChanged(actor, ev, changes)
}

func notifyMembership(obs *RoomObserver, actor, subject *Member, ev *Event, changes []Change) {
	if obs == nil || obs.OnMembership == nil {
		return
	}

	obs.OnMembership(actor, subject, ev, changes)
}

func notifyBackMembership(obs *RoomObserver, actor, subject *Member, ev *Event, changes []Change) {
	if obs == nil || obs.OnBackMembership == nil {
		return
	}

	obs.OnBackMembership(actor, subject, ev, changes)
}

func notifyMessage(obs *RoomObserver, member *Member, content map[string]interface{}, ev *Event) {
	if obs == nil || obs.OnMessage == nil {
		return
	}

	obs.OnMessage(member, content, ev)
}

func notifyBackMessage(obs *RoomObserver, member *Member, content map[string]interface{}, ev *Event) {
	if obs == nil || obs.OnBackMessage == nil {
		return
	}

	obs.OnBackMessage(member, content, ev)
}
