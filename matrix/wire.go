package matrix

// Wire response shapes for the endpoints listed in spec.md §6. Event
// itself doubles as the wire shape for individual timeline/state events
// since its json tags already match the server's envelope.

type initialSyncRoom struct {
	RoomID     string  `json:"room_id"`
	Membership string  `json:"membership"`
	State      []Event `json:"state"`
}

type initialSyncResponse struct {
	End      string             `json:"end"`
	Presence []Event            `json:"presence"`
	Rooms    []initialSyncRoom  `json:"rooms"`
}

type eventsResponse struct {
	Chunk []Event `json:"chunk"`
	End   string  `json:"end"`
}

type messagesResponse struct {
	Chunk []Event `json:"chunk"`
	Start string  `json:"start"`
	End   string  `json:"end"`
}

type loginFlowsResponse struct {
	Flows []struct {
		Type string `json:"type"`
	} `json:"flows"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	HomeServer  string `json:"home_server,omitempty"`
}

type registerFlowsResponse struct {
	Flows []struct {
		Type string `json:"type"`
	} `json:"flows"`
	Session string `json:"session,omitempty"`
}

type createRoomResponse struct {
	RoomID    string `json:"room_id"`
	RoomAlias string `json:"room_alias,omitempty"`
}

type joinRoomResponse struct {
	RoomID string `json:"room_id"`
}

type presenceListEntry struct {
	UserID string `json:"user_id"`
}
