// Package id defines the string-kind Matrix identifier types shared across
// the engine: user IDs, room IDs, room aliases and event IDs. They are thin
// wrappers so call sites can't accidentally pass a room ID where a user ID
// is expected, the same discipline matterircd's bridge/matrix package gets
// for free from maunium.net/go/mautrix/id.
package id

import (
	"fmt"
	"strings"
)

// UserID is an opaque, globally unique identifier of the form "@user:server".
type UserID string

// RoomID is an opaque room identifier of the form "!opaque:server".
type RoomID string

// RoomAlias is a human-assigned alias of the form "#name:server".
type RoomAlias string

// EventID is an opaque per-event identifier.
type EventID string

// parse splits an identifier of the form "sigil+localpart:server" into its
// localpart and server components. sigil is one of '@', '!' or '#'.
func parse(s, sigil string) (localpart, server string, err error) {
	if !strings.HasPrefix(s, sigil) {
		return "", "", fmt.Errorf("id: %q does not start with %q", s, sigil)
	}

	rest := s[len(sigil):]

	idx := strings.IndexByte(rest, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("id: %q has no server part", s)
	}

	return rest[:idx], rest[idx+1:], nil
}

// Parse returns the localpart and home server of a user ID.
func (u UserID) Parse() (localpart, server string, err error) {
	return parse(string(u), "@")
}

func (u UserID) String() string { return string(u) }

// Parse returns the opaque localpart and origin server of a room ID.
func (r RoomID) Parse() (localpart, server string, err error) {
	return parse(string(r), "!")
}

func (r RoomID) String() string { return string(r) }

// Parse returns the localpart and home server of a room alias.
func (a RoomAlias) Parse() (localpart, server string, err error) {
	return parse(string(a), "#")
}

func (a RoomAlias) String() string { return string(a) }

func (e EventID) String() string { return string(e) }
