package matrix

import (
	"github.com/mitchellh/mapstructure"

	"github.com/42wim/matrixcore/id"
)

// Event is the generic envelope the dispatcher and room engine operate on,
// per spec.md §4.2: a dotted type, opaque content, optional prev_content,
// the acting user, an optional state subject and timestamp.
type Event struct {
	Type         string                 `json:"type"`
	Content      map[string]interface{} `json:"content"`
	PrevContent  map[string]interface{} `json:"prev_content,omitempty"`
	Sender       id.UserID              `json:"user_id"`
	StateKey     *string                `json:"state_key,omitempty"`
	RoomID       id.RoomID              `json:"room_id,omitempty"`
	EventID      id.EventID             `json:"event_id,omitempty"`
	TimestampMs  int64                  `json:"ts,omitempty"`
}

// decodeContent decodes a generic content map into a typed struct using
// mapstructure, the same role mautrix's event.Content.Parsed typed
// decoding plays in bridge/matrix.Matrix's handlers — done by hand here
// since this core does not depend on mautrix (see DESIGN.md).
func decodeContent(raw map[string]interface{}, out any) error {
	if raw == nil {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return err
	}

	return dec.Decode(raw)
}

// Direction tags which way a fold is being applied: forward (live
// streaming / initial sync) or backward (history pagination). spec.md §9
// calls for one fold function parameterised by direction rather than
// triplicated phase code; initial sync is modelled as Forward with
// isInitial=true since its mutation rules are a strict subset of forward's.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}

	return "forward"
}

// Membership is the normalised membership state of a Member; spec.md §3
// collapses the wire value "leave" (and an empty/missing content) into the
// sentinel "absent", modelled here as the zero value of *Membership being
// nil (absent) rather than a fourth enum member, so "changed from absent"
// and "changed to absent" fall out of ordinary pointer comparison.
type Membership string

const (
	MembershipInvite Membership = "invite"
	MembershipJoin   Membership = "join"
	MembershipLeave  Membership = "leave" // wire-only; normalised away on fold
)

// Presence mirrors spec.md §3's presence enum.
type Presence string

const (
	PresenceOffline    Presence = "offline"
	PresenceUnavailable Presence = "unavailable"
	PresenceOnline     Presence = "online"
)

// memberContent is the normalised shape of an m.room.member event's
// content/prev_content, after collapsing "leave" and empty content to an
// absent membership (Membership == nil).
type memberContent struct {
	Membership  *Membership
	Displayname *string
}

// normaliseMember decodes a raw member-event content map and applies the
// leave/absent normalisation from spec.md §3 and §4.3.3. A malformed field
// (e.g. a non-string membership) is reported through err rather than
// silently discarded, the same malformed-content handling client.go's
// handlePresence gives m.presence content (spec.md §7: logged, event
// dropped).
func normaliseMember(raw map[string]interface{}) (memberContent, error) {
	if len(raw) == 0 {
		return memberContent{}, nil
	}

	var wire struct {
		Membership  string  `json:"membership"`
		Displayname *string `json:"displayname"`
	}

	if err := decodeContent(raw, &wire); err != nil {
		return memberContent{}, err
	}

	mc := memberContent{Displayname: wire.Displayname}

	if wire.Membership != "" && wire.Membership != "leave" {
		m := Membership(wire.Membership)
		mc.Membership = &m
	}

	return mc, nil
}
