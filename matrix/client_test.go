package matrix

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/42wim/matrixcore/id"
)

func newTestClient(ft Transport, obs *ClientObserver, roomObs *RoomObserver) *Client {
	v := viper.New()
	v.Set("matrix.pollseconds", 0)
	v.Set("matrix.backoffseconds", 0)

	return NewWithTransport(v, ft, obs, roomObs)
}

func TestClientLoginWithTokenStartsAndSyncsRooms(t *testing.T) {
	ft := newFakeTransport()

	ft.enqueue("GET", "/initialSync", initialSyncResponse{
		End: "s1",
		Rooms: []initialSyncRoom{
			{
				RoomID:     "!room1:example.org",
				Membership: "join",
				State: []Event{
					{Type: typeRoomCreate, Sender: "@self:example.org", Content: map[string]interface{}{"creator": "@self:example.org"}},
					{Type: typeRoomMember, Sender: "@self:example.org", StateKey: strPtr("@self:example.org"), Content: map[string]interface{}{"membership": "join"}},
					{Type: typeRoomName, Sender: "@self:example.org", Content: map[string]interface{}{"name": "Lounge"}},
				},
			},
			{RoomID: "!invited:example.org", Membership: "invite"},
		},
	})

	var newRooms []id.RoomID
	var invites []id.RoomID
	obs := &ClientObserver{
		OnRoomNew: func(room *Room) { newRooms = append(newRooms, room.ID) },
		OnInvite:  func(ev *Event) { invites = append(invites, ev.RoomID) },
	}

	var syncedRooms []id.RoomID
	roomObs := &RoomObserver{OnSyncedState: func(room *Room) { syncedRooms = append(syncedRooms, room.ID) }}

	c := newTestClient(ft, obs, roomObs)

	// Keep the pump's long-poll harmlessly looping with no events so
	// Start's blocking Wait() returns promptly once initialSync is folded.
	ft.enqueue("GET", "/events", eventsResponse{End: "s1"})

	require.NoError(t, c.LoginWithToken(context.Background(), "@self:example.org", "tok"))
	defer c.Stop()

	assert.Equal(t, []id.RoomID{"!room1:example.org"}, newRooms)
	assert.Equal(t, []id.RoomID{"!room1:example.org"}, syncedRooms)
	assert.Equal(t, []id.RoomID{"!invited:example.org"}, invites)

	room, ok := c.Room("!room1:example.org")
	require.True(t, ok)
	assert.Equal(t, "Lounge", room.Name())

	_, ok = c.Room("!invited:example.org")
	assert.False(t, ok)
}

func TestClientStartIsIdempotentBeforeCompletion(t *testing.T) {
	ft := newFakeTransport()
	ft.enqueue("GET", "/initialSync", initialSyncResponse{End: "s1"})
	ft.enqueue("GET", "/events", eventsResponse{End: "s1"})

	c := newTestClient(ft, nil, nil)
	c.userID = "@self:example.org"

	ctx := context.Background()
	h1 := c.Start(ctx)
	h2 := c.Start(ctx)

	assert.Same(t, h1, h2)
	require.NoError(t, h1.Wait())

	c.Stop()
}

func TestClientStartRetriesAfterFailure(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(ft, nil, nil)

	// No /initialSync response queued: the first attempt fails immediately.
	h1 := c.Start(context.Background())
	require.Error(t, h1.Wait())

	ft.enqueue("GET", "/initialSync", initialSyncResponse{End: "s2"})
	ft.enqueue("GET", "/events", eventsResponse{End: "s2"})

	h2 := c.Start(context.Background())
	require.NoError(t, h2.Wait())

	c.Stop()
}

func TestClientForwardMessageDispatchedThroughPump(t *testing.T) {
	ft := newFakeTransport()

	ft.enqueue("GET", "/initialSync", initialSyncResponse{
		End: "s1",
		Rooms: []initialSyncRoom{
			{
				RoomID:     "!room1:example.org",
				Membership: "join",
				State: []Event{
					{Type: typeRoomMember, Sender: "@alice:example.org", StateKey: strPtr("@alice:example.org"), Content: map[string]interface{}{"membership": "join"}},
				},
			},
		},
	})

	msgCh := make(chan string, 1)
	roomObs := &RoomObserver{
		OnMessage: func(member *Member, content map[string]interface{}, ev *Event) {
			msgCh <- content["body"].(string)
		},
	}

	c := newTestClient(ft, nil, roomObs)
	c.userID = "@self:example.org"

	ft.enqueue("GET", "/events", eventsResponse{
		Chunk: []Event{
			{Type: typeRoomMessage, RoomID: "!room1:example.org", Sender: "@alice:example.org", EventID: "$ev1", Content: map[string]interface{}{"body": "hello"}},
		},
		End: "s2",
	})
	ft.enqueue("GET", "/events", eventsResponse{End: "s2"})

	require.NoError(t, c.Start(context.Background()).Wait())
	defer c.Stop()

	select {
	case body := <-msgCh:
		assert.Equal(t, "hello", body)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded message")
	}
}
