package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type parseCase struct {
	desc      string
	value     string
	localpart string
	server    string
	wantErr   bool
}

var userIDCases = []parseCase{
	{desc: "simple", value: "@alice:example.org", localpart: "alice", server: "example.org"},
	{desc: "server with port", value: "@alice:example.org:8448", localpart: "alice", server: "example.org:8448"},
	{desc: "wrong sigil", value: "!alice:example.org", wantErr: true},
	{desc: "no server part", value: "@alice", wantErr: true},
}

func TestUserIDParse(t *testing.T) {
	for _, tc := range userIDCases {
		localpart, server, err := UserID(tc.value).Parse()

		if tc.wantErr {
			assert.Error(t, err, tc.desc)
			continue
		}

		assert.NoError(t, err, tc.desc)
		assert.Equal(t, tc.localpart, localpart, tc.desc)
		assert.Equal(t, tc.server, server, tc.desc)
	}
}

func TestRoomIDParse(t *testing.T) {
	localpart, server, err := RoomID("!abc123:example.org").Parse()
	assert.NoError(t, err)
	assert.Equal(t, "abc123", localpart)
	assert.Equal(t, "example.org", server)

	_, _, err = RoomID("#abc123:example.org").Parse()
	assert.Error(t, err)
}

func TestRoomAliasParse(t *testing.T) {
	localpart, server, err := RoomAlias("#lounge:example.org").Parse()
	assert.NoError(t, err)
	assert.Equal(t, "lounge", localpart)
	assert.Equal(t, "example.org", server)
}

func TestStringMethods(t *testing.T) {
	assert.Equal(t, "@alice:example.org", UserID("@alice:example.org").String())
	assert.Equal(t, "!r:example.org", RoomID("!r:example.org").String())
	assert.Equal(t, "#lounge:example.org", RoomAlias("#lounge:example.org").String())
	assert.Equal(t, "$event:example.org", EventID("$event:example.org").String())
}
