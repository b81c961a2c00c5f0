package matrix

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/42wim/matrixcore/id"
)

func newTestClientWithTransport(ft Transport) *Client {
	v := viper.New()
	v.Set("matrix.paginationlimit", 10)

	return NewWithTransport(v, ft, nil, nil)
}

func TestPaginateStopsAtRoomCreate(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClientWithTransport(ft)

	room, _ := c.rooms.getOrCreate(id.RoomID("!r:example.org"), c)
	room.Forward.Name = strPtr("room")

	ft.enqueue("GET", "/rooms/%21r:example.org/messages", messagesResponse{
		Chunk: []Event{
			{Type: typeRoomMessage, Sender: "@alice:example.org", Content: map[string]interface{}{"body": "bye"}},
			{Type: typeRoomCreate, Sender: "@alice:example.org", Content: map[string]interface{}{"creator": "@alice:example.org"}},
		},
		End: "t1",
	})

	err := room.Paginate(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "START", room.PaginationToken)

	err = room.Paginate(context.Background(), 0)
	assert.ErrorIs(t, err, ErrPaginationExhausted)
}

func TestPaginateAdvancesTokenWithoutCreate(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClientWithTransport(ft)

	room, _ := c.rooms.getOrCreate(id.RoomID("!r:example.org"), c)

	ft.enqueue("GET", "/rooms/%21r:example.org/messages", messagesResponse{
		Chunk: []Event{{Type: typeRoomMessage, Sender: "@alice:example.org", Content: map[string]interface{}{"body": "hi"}}},
		End:   "t1",
	})

	require.NoError(t, room.Paginate(context.Background(), 0))
	assert.Equal(t, "t1", room.PaginationToken)
	assert.NotNil(t, room.Backward)
}
