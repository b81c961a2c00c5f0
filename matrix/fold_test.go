package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/42wim/matrixcore/id"
)

func newTestRoom() *Room {
	c := &Client{users: newUserRegistry(), rooms: newRoomRegistry()}
	room, _ := c.rooms.getOrCreate(id.RoomID("!r:example.org"), c)

	return room
}

func strPtr(s string) *string { return &s }

func TestFoldScalarInitialDoesNotNotify(t *testing.T) {
	room := newTestRoom()

	var fired bool
	obs := &RoomObserver{OnStateChanged: func(actor *Member, ev *Event, changes []Change) { fired = true }}

	ev := &Event{Type: typeRoomName, Sender: "@alice:example.org", Content: map[string]interface{}{"name": "Lounge"}}
	require.NoError(t, room.fold(ev, Forward, true, obs))

	assert.False(t, fired)
	assert.Equal(t, "Lounge", room.Name())
}

func TestFoldScalarForwardNotifiesOnChange(t *testing.T) {
	room := newTestRoom()
	room.Forward.Name = strPtr("old name")

	var got []Change
	obs := &RoomObserver{OnStateChanged: func(actor *Member, ev *Event, changes []Change) { got = changes }}

	ev := &Event{Type: typeRoomName, Sender: "@alice:example.org", Content: map[string]interface{}{"name": "new name"}}
	require.NoError(t, room.fold(ev, Forward, false, obs))

	require.Len(t, got, 1)
	assert.Equal(t, "name", got[0].Field)
	assert.Equal(t, "old name", *got[0].Old.(*string))
	assert.Equal(t, "new name", *got[0].New.(*string))
	assert.Equal(t, "new name", room.Name())
}

func TestFoldScalarBackwardReadsContentAndPrevContentOnly(t *testing.T) {
	room := newTestRoom()
	room.ensureBackward()
	room.Forward.Name = strPtr("should not change")

	var got []Change
	obs := &RoomObserver{OnBackStateChanged: func(actor *Member, ev *Event, changes []Change) { got = changes }}

	ev := &Event{
		Type:        typeRoomName,
		Sender:      "@alice:example.org",
		Content:     map[string]interface{}{"name": "older name"},
		PrevContent: map[string]interface{}{"name": "even older name"},
	}
	require.NoError(t, room.fold(ev, Backward, false, obs))

	require.Len(t, got, 1)
	assert.Equal(t, "even older name", *got[0].Old.(*string))
	assert.Equal(t, "older name", *got[0].New.(*string))
	assert.Equal(t, "should not change", room.Name())
}

func TestFoldAliasesForwardTracksOthers(t *testing.T) {
	room := newTestRoom()
	room.Forward.AliasesByServer["other.org"] = []id.RoomAlias{"#shared:other.org"}

	var got []Change
	obs := &RoomObserver{OnStateChanged: func(actor *Member, ev *Event, changes []Change) { got = changes }}

	ev := &Event{
		Type:     typeRoomAliases,
		Sender:   "@alice:example.org",
		StateKey: strPtr("example.org"),
		Content:  map[string]interface{}{"aliases": []interface{}{"#lounge:example.org"}},
	}
	require.NoError(t, room.fold(ev, Forward, false, obs))

	require.Len(t, got, 2)
	assert.Equal(t, "aliases", got[0].Field)
	assert.Equal(t, "aliases.others", got[1].Field)
	assert.Equal(t, []id.RoomAlias{"#shared:other.org"}, got[1].New)
}

func TestFoldMembershipInitialDuplicateIsIgnored(t *testing.T) {
	room := newTestRoom()

	ev := &Event{Type: typeRoomMember, StateKey: strPtr("@alice:example.org"), Content: map[string]interface{}{"membership": "join"}}
	require.NoError(t, room.fold(ev, Forward, true, nil))
	require.NoError(t, room.fold(ev, Forward, true, nil))

	assert.Len(t, room.Forward.Members, 1)
}

func TestFoldMembershipForwardJoinThenLeaveRemovesMember(t *testing.T) {
	room := newTestRoom()

	joinEv := &Event{
		Type:     typeRoomMember,
		Sender:   "@alice:example.org",
		StateKey: strPtr("@bob:example.org"),
		Content:  map[string]interface{}{"membership": "join", "displayname": "Bob"},
	}
	require.NoError(t, room.fold(joinEv, Forward, false, nil))

	member, ok := room.Forward.Member("@bob:example.org")
	require.True(t, ok)
	assert.Equal(t, MembershipJoin, member.Membership)

	var lastChanges []Change
	obs := &RoomObserver{OnMembership: func(actor, subject *Member, ev *Event, changes []Change) { lastChanges = changes }}

	leaveEv := &Event{
		Type:        typeRoomMember,
		Sender:      "@bob:example.org",
		StateKey:    strPtr("@bob:example.org"),
		Content:     map[string]interface{}{"membership": "leave"},
		PrevContent: map[string]interface{}{"membership": "join", "displayname": "Bob"},
	}
	require.NoError(t, room.fold(leaveEv, Forward, false, obs))

	_, ok = room.Forward.Member("@bob:example.org")
	assert.False(t, ok)
	require.NotEmpty(t, lastChanges)
}

func TestFoldMembershipSelfLeaveRemovesRoomFromRegistry(t *testing.T) {
	room := newTestRoom()
	client := room.client
	client.userID = "@self:example.org"

	joinEv := &Event{Type: typeRoomMember, StateKey: strPtr("@self:example.org"), Content: map[string]interface{}{"membership": "join"}}
	require.NoError(t, room.fold(joinEv, Forward, true, nil))

	var roomDeleted bool
	client.obs = &ClientObserver{OnRoomDel: func(r *Room) { roomDeleted = true }}

	leaveEv := &Event{
		Type:        typeRoomMember,
		Sender:      "@self:example.org",
		StateKey:    strPtr("@self:example.org"),
		Content:     map[string]interface{}{"membership": "leave"},
		PrevContent: map[string]interface{}{"membership": "join"},
	}
	require.NoError(t, room.fold(leaveEv, Forward, false, nil))

	assert.True(t, roomDeleted)
	_, ok := client.rooms.get(room.ID)
	assert.False(t, ok)
}

func TestFoldMessageDropsUnknownMember(t *testing.T) {
	room := newTestRoom()

	var fired bool
	obs := &RoomObserver{OnMessage: func(member *Member, content map[string]interface{}, ev *Event) { fired = true }}

	ev := &Event{Type: typeRoomMessage, Sender: "@ghost:example.org", Content: map[string]interface{}{"body": "hi"}}
	require.NoError(t, room.fold(ev, Forward, false, obs))

	assert.False(t, fired)
}

func TestFoldMessageNotifiesKnownMember(t *testing.T) {
	room := newTestRoom()
	room.Forward.Members["@alice:example.org"] = &Member{User: room.client.users.getOrCreate("@alice:example.org"), Membership: MembershipJoin}

	var gotBody interface{}
	obs := &RoomObserver{OnMessage: func(member *Member, content map[string]interface{}, ev *Event) { gotBody = content["body"] }}

	ev := &Event{Type: typeRoomMessage, Sender: "@alice:example.org", Content: map[string]interface{}{"body": "hi"}}
	require.NoError(t, room.fold(ev, Forward, false, obs))

	assert.Equal(t, "hi", gotBody)
}

func TestFoldPowerLevelsUnifiedPerUserChange(t *testing.T) {
	room := newTestRoom()
	room.Forward.LevelByUserID["default"] = 0
	room.Forward.LevelByUserID["@alice:example.org"] = 0

	var got []Change
	obs := &RoomObserver{OnMembership: func(actor, subject *Member, ev *Event, changes []Change) { got = changes }}

	ev := &Event{
		Type:    typeRoomPowerLevels,
		Sender:  "@admin:example.org",
		Content: map[string]interface{}{"default": 0, "@alice:example.org": 50},
		PrevContent: map[string]interface{}{"default": 0, "@alice:example.org": 0},
	}
	require.NoError(t, room.fold(ev, Forward, false, obs))

	require.Len(t, got, 1)
	assert.Equal(t, "level", got[0].Field)
	assert.Equal(t, 0, got[0].Old)
	assert.Equal(t, 50, got[0].New)
	assert.Equal(t, 50, room.Forward.LevelByUserID["@alice:example.org"])
}

func TestFoldLegacyLevelsForwardNotifiesOnChange(t *testing.T) {
	room := newTestRoom()
	room.Forward.Levels["send_event"] = 0

	var got []Change
	obs := &RoomObserver{OnStateChanged: func(actor *Member, ev *Event, changes []Change) { got = changes }}

	ev := &Event{Type: typeRoomSendEventLevel, Sender: "@admin:example.org", Content: map[string]interface{}{"level": 10}}
	require.NoError(t, room.fold(ev, Forward, false, obs))

	require.Len(t, got, 1)
	assert.Equal(t, "level.send_event", got[0].Field)
	assert.Equal(t, 10, room.Forward.Levels["send_event"])
}
