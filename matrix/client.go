package matrix

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/spf13/viper"

	"github.com/42wim/matrixcore/id"
)

// logger is the package-scoped entry every file in matrix logs through. It
// starts with default settings and is rebuilt by each New from that
// client's Config, the same way bridge/matrix.New assigns the package
// var logger *logrus.Entry before doing anything else.
var logger = newLogger(&Config{}, "matrix")

// dispatchCacheSize bounds the pump's recently-dispatched event-id cache
// (pump.go), the same fixed-size LRU role bridge/matrix.Matrix.r (a
// golang-lru cache of recently relayed message IDs) plays for matterircd's
// own echo suppression.
const dispatchCacheSize = 2048

// Credentials carries whatever the caller has on hand for Login/Register:
// either a pre-existing access token, or a login/password pair to submit
// against the server's advertised m.login.password flow (spec.md §4.1).
type Credentials struct {
	UserID      string
	AccessToken string
	Login       string
	Password    string
}

// StartHandle is returned by Client.Start and lets every caller of Start
// before completion observe the same outcome (spec.md §4.1's Start/Stop
// idempotency invariant).
type StartHandle struct {
	done chan struct{}
	err  error
}

// Wait blocks until the start attempt this handle represents has finished,
// returning its error (nil on success).
func (h *StartHandle) Wait() error {
	<-h.done
	return h.err
}

// Done exposes the completion channel for select-based callers.
func (h *StartHandle) Done() <-chan struct{} { return h.done }

// Client is the engine's single entry point: one Transport, the two entity
// registries, the dispatcher wired to this client's own handlers, and the
// observer surfaces a caller installs before Start. It mirrors
// bridge/matrix.Matrix's role as the one struct a bridge driver holds, with
// Config/Transport standing in for mautrix.Client and a *viper.Viper.
type Client struct {
	cfg       *Config
	transport Transport

	mu          sync.RWMutex
	userID      id.UserID
	accessToken string
	startHandle *StartHandle
	pump        *pump

	users *userRegistry
	rooms *roomRegistry

	obs        *ClientObserver
	roomObs    *RoomObserver
	dispatcher *Dispatcher

	dispatchCache *lru.Cache
}

// New builds a Client against server using v for its tunables (spec.md §6),
// wiring the dispatcher's two routing prefixes to this client's own
// handlers (spec.md §4.2: per-type interpretation lives in the room engine,
// the dispatcher only resolves target).
func New(v *viper.Viper, server string, obs *ClientObserver, roomObs *RoomObserver) *Client {
	cfg := NewConfig(v)
	logger = newLogger(cfg, "matrix")

	cache, err := lru.New(dispatchCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// dispatchCacheSize never is.
		panic(err)
	}

	c := &Client{
		cfg:           cfg,
		transport:     NewHTTPTransport(server, cfg.PathPrefix),
		users:         newUserRegistry(),
		rooms:         newRoomRegistry(),
		obs:           obs,
		roomObs:       roomObs,
		dispatchCache: cache,
	}

	c.dispatcher = NewDispatcher(c.handleUnknownEvent)
	c.dispatcher.Register("m.room", c.dispatchToRoom)
	c.dispatcher.Register("m.presence", c.handlePresence)

	return c
}

// NewWithTransport builds a Client against a caller-supplied Transport,
// bypassing NewHTTPTransport — the seam the package tests use to drive the
// engine through transport_test.go's fakeTransport without a network.
func NewWithTransport(v *viper.Viper, transport Transport, obs *ClientObserver, roomObs *RoomObserver) *Client {
	c := New(v, "", obs, roomObs)
	c.transport = transport

	return c
}

func (c *Client) selfID() id.UserID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.userID
}

// Rooms returns every room currently in the registry.
func (c *Client) Rooms() []*Room { return c.rooms.all() }

// Room looks up a single room by ID.
func (c *Client) Room(roomID id.RoomID) (*Room, bool) { return c.rooms.get(roomID) }

// Users returns every user the client has ever seen referenced.
func (c *Client) Users() []*User { return c.users.all() }

// Login performs spec.md §4.1's login: an access token skips flow
// discovery entirely, otherwise the client fetches the server's advertised
// flows and submits m.login.password if both a login and password were
// given and the server offers that flow.
func (c *Client) Login(ctx context.Context, cred Credentials) error {
	if cred.AccessToken != "" {
		return c.LoginWithToken(ctx, id.UserID(cred.UserID), cred.AccessToken)
	}

	var flows loginFlowsResponse
	if err := c.transport.Get(ctx, "/login", nil, &flows); err != nil {
		return err
	}

	supported := false
	for _, f := range flows.Flows {
		if f.Type == "m.login.password" {
			supported = true
			break
		}
	}

	if !supported || cred.Login == "" || cred.Password == "" {
		return ErrAuthUnsupported
	}

	body := map[string]interface{}{
		"type":     "m.login.password",
		"user":     cred.Login,
		"password": cred.Password,
	}

	var resp loginResponse
	if err := c.transport.Post(ctx, "/login", body, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}

	return c.LoginWithToken(ctx, id.UserID(resp.UserID), resp.AccessToken)
}

// LoginWithToken installs a pre-existing access token and starts the
// client, blocking until the initial sync completes or fails.
func (c *Client) LoginWithToken(ctx context.Context, userID id.UserID, accessToken string) error {
	c.mu.Lock()
	c.userID = userID
	c.accessToken = accessToken
	c.mu.Unlock()

	if ht, ok := c.transport.(*httpTransport); ok {
		ht.SetAccessToken(accessToken)
	}

	return c.Start(ctx).Wait()
}

// Register performs spec.md §4.1's registration flow against the single
// m.login.password stage: it enumerates the server's advertised flows, and
// if that stage is offered, submits it with the server's session token
// echoed back. Composing further stages (captcha, email, terms) would need
// credential inputs Credentials doesn't carry, so only the one stage this
// core can actually satisfy is implemented; see DESIGN.md's Open Question
// resolutions for the reasoning (this is a scope decision, not something
// spec.md's Non-goals name).
func (c *Client) Register(ctx context.Context, login, password string) error {
	var flows registerFlowsResponse
	if err := c.transport.Get(ctx, "/register", nil, &flows); err != nil {
		return err
	}

	supported := false
	for _, f := range flows.Flows {
		if f.Type == "m.login.password" {
			supported = true
			break
		}
	}

	if !supported {
		return ErrAuthUnsupported
	}

	body := map[string]interface{}{
		"type":     "m.login.password",
		"user":     login,
		"password": password,
	}
	if flows.Session != "" {
		body["session"] = flows.Session
	}

	var resp loginResponse
	if err := c.transport.Post(ctx, "/register", body, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}

	return c.LoginWithToken(ctx, id.UserID(resp.UserID), resp.AccessToken)
}

// Start performs the one-time initialSync and launches the event pump,
// per spec.md §4.1. Repeated calls before the first has finished (or after
// it has succeeded) return the same StartHandle; a failed attempt clears
// the handle so the next call retries from scratch.
func (c *Client) Start(ctx context.Context) *StartHandle {
	c.mu.Lock()
	if c.startHandle != nil {
		h := c.startHandle
		c.mu.Unlock()

		return h
	}

	h := &StartHandle{done: make(chan struct{})}
	c.startHandle = h
	c.mu.Unlock()

	go c.doStart(ctx, h)

	return h
}

// Stop tears down the pump, if running, and clears the start handle so a
// later Start performs a fresh initialSync. Safe to call any number of
// times, started or not.
func (c *Client) Stop() {
	c.mu.Lock()
	p := c.pump
	c.pump = nil
	c.startHandle = nil
	c.mu.Unlock()

	if p != nil {
		p.stop()
	}
}

func (c *Client) doStart(ctx context.Context, h *StartHandle) {
	defer close(h.done)

	var resp initialSyncResponse
	if err := c.transport.Get(ctx, "/initialSync", url.Values{"limit": []string{"0"}}, &resp); err != nil {
		h.err = err
		c.obs.reportError(err, "transport", "/initialSync")

		c.mu.Lock()
		c.startHandle = nil
		c.mu.Unlock()

		return
	}

	c.foldInitialSync(&resp)

	p := newPump(c, resp.End)
	c.mu.Lock()
	c.pump = p
	c.mu.Unlock()

	p.start()
}

func (c *Client) foldInitialSync(resp *initialSyncResponse) {
	for i := range resp.Presence {
		c.handlePresence(&resp.Presence[i], nil)
	}

	for _, rm := range resp.Rooms {
		switch rm.Membership {
		case "join":
			room, _ := c.rooms.getOrCreate(id.RoomID(rm.RoomID), c)

			for i := range rm.State {
				rm.State[i].RoomID = id.RoomID(rm.RoomID)
				room.fold(&rm.State[i], Forward, true, c.roomObs)
			}

			if c.obs != nil && c.obs.OnRoomNew != nil {
				c.obs.OnRoomNew(room)
			}

			if c.roomObs != nil && c.roomObs.OnSyncedState != nil {
				c.roomObs.OnSyncedState(room)
			}
		case "invite":
			if c.obs != nil && c.obs.OnInvite != nil {
				c.obs.OnInvite(&Event{Type: typeRoomMember, RoomID: id.RoomID(rm.RoomID), Sender: c.selfID()})
			}
		default:
			logger.Warnf("initialSync: room %s has unexpected membership %q", rm.RoomID, rm.Membership)
		}
	}
}

// CreateRoom creates a new room, optionally requesting a local alias, and
// synchronises its initial state before returning (spec.md §4.1).
func (c *Client) CreateRoom(ctx context.Context, aliasLocalpart string) (*Room, string, error) {
	body := map[string]interface{}{}
	if aliasLocalpart != "" {
		body["room_alias_name"] = aliasLocalpart
	}

	var resp createRoomResponse
	if err := c.transport.Post(ctx, "/createRoom", body, &resp); err != nil {
		return nil, "", err
	}

	room, _ := c.rooms.getOrCreate(id.RoomID(resp.RoomID), c)
	if err := c.syncRoomState(ctx, room); err != nil {
		return nil, "", err
	}

	return room, resp.RoomAlias, nil
}

// JoinRoom joins a room by alias or room ID and synchronises its state
// (spec.md §4.1).
func (c *Client) JoinRoom(ctx context.Context, idOrAlias string) (*Room, error) {
	switch {
	case strings.HasPrefix(idOrAlias, "#"):
		var resp joinRoomResponse
		if err := c.transport.Post(ctx, "/join/"+url.PathEscape(idOrAlias), map[string]interface{}{}, &resp); err != nil {
			return nil, err
		}

		return c.ensureRoomSynced(ctx, id.RoomID(resp.RoomID))

	case strings.HasPrefix(idOrAlias, "!"):
		rid := id.RoomID(idOrAlias)
		path := fmt.Sprintf("/rooms/%s/state/m.room.member/%s", url.PathEscape(idOrAlias), url.PathEscape(string(c.selfID())))

		if err := c.transport.Put(ctx, path, map[string]interface{}{"membership": "join"}, nil); err != nil {
			return nil, err
		}

		return c.ensureRoomSynced(ctx, rid)

	default:
		return nil, fmt.Errorf("matrix: %q is neither a room alias nor a room id", idOrAlias)
	}
}

func (c *Client) ensureRoomSynced(ctx context.Context, roomID id.RoomID) (*Room, error) {
	if room, ok := c.rooms.get(roomID); ok {
		return room, nil
	}

	room, _ := c.rooms.getOrCreate(roomID, c)
	if err := c.syncRoomState(ctx, room); err != nil {
		return nil, err
	}

	return room, nil
}

func (c *Client) syncRoomState(ctx context.Context, room *Room) error {
	var events []Event
	if err := c.transport.Get(ctx, fmt.Sprintf("/rooms/%s/state", url.PathEscape(string(room.ID))), nil, &events); err != nil {
		return err
	}

	for i := range events {
		events[i].RoomID = room.ID
		room.fold(&events[i], Forward, true, c.roomObs)
	}

	if c.obs != nil && c.obs.OnRoomNew != nil {
		c.obs.OnRoomNew(room)
	}

	if c.roomObs != nil && c.roomObs.OnSyncedState != nil {
		c.roomObs.OnSyncedState(room)
	}

	return nil
}

// AddAlias publishes alias against roomID in the server's directory.
func (c *Client) AddAlias(ctx context.Context, alias id.RoomAlias, roomID id.RoomID) error {
	body := map[string]interface{}{"room_id": string(roomID)}
	return c.transport.Put(ctx, "/directory/room/"+url.PathEscape(string(alias)), body, nil)
}

// DeleteAlias removes a published alias.
func (c *Client) DeleteAlias(ctx context.Context, alias id.RoomAlias) error {
	return c.transport.Delete(ctx, "/directory/room/"+url.PathEscape(string(alias)))
}

// GetDisplayname fetches uid's profile displayname.
func (c *Client) GetDisplayname(ctx context.Context, uid id.UserID) (string, error) {
	var resp struct {
		Displayname string `json:"displayname"`
	}

	if err := c.transport.Get(ctx, fmt.Sprintf("/profile/%s/displayname", url.PathEscape(string(uid))), nil, &resp); err != nil {
		return "", err
	}

	return resp.Displayname, nil
}

// SetDisplayname sets the local user's profile displayname.
func (c *Client) SetDisplayname(ctx context.Context, name string) error {
	path := fmt.Sprintf("/profile/%s/displayname", url.PathEscape(string(c.selfID())))
	return c.transport.Put(ctx, path, map[string]interface{}{"displayname": name}, nil)
}

// GetPresence fetches uid's current presence state.
func (c *Client) GetPresence(ctx context.Context, uid id.UserID) (Presence, error) {
	var resp struct {
		Presence string `json:"presence"`
	}

	if err := c.transport.Get(ctx, fmt.Sprintf("/presence/%s/status", url.PathEscape(string(uid))), nil, &resp); err != nil {
		return "", err
	}

	return Presence(resp.Presence), nil
}

// SetPresence sets the local user's presence state.
func (c *Client) SetPresence(ctx context.Context, presence Presence) error {
	path := fmt.Sprintf("/presence/%s/status", url.PathEscape(string(c.selfID())))
	return c.transport.Put(ctx, path, map[string]interface{}{"presence": string(presence)}, nil)
}

// GetPresenceList returns the user IDs on the local user's presence list.
func (c *Client) GetPresenceList(ctx context.Context) ([]id.UserID, error) {
	var resp []presenceListEntry

	path := fmt.Sprintf("/presence_list/%s", url.PathEscape(string(c.selfID())))
	if err := c.transport.Get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]id.UserID, 0, len(resp))
	for _, e := range resp {
		out = append(out, id.UserID(e.UserID))
	}

	return out, nil
}

// InvitePresence adds uid to the local user's presence list.
func (c *Client) InvitePresence(ctx context.Context, uid id.UserID) error {
	path := fmt.Sprintf("/presence_list/%s", url.PathEscape(string(c.selfID())))
	return c.transport.Post(ctx, path, map[string]interface{}{"invite": []string{string(uid)}}, nil)
}

// DropPresence removes uid from the local user's presence list.
func (c *Client) DropPresence(ctx context.Context, uid id.UserID) error {
	path := fmt.Sprintf("/presence_list/%s", url.PathEscape(string(c.selfID())))
	return c.transport.Post(ctx, path, map[string]interface{}{"drop": []string{string(uid)}}, nil)
}

// handleSelfLeave removes room from the registry and notifies on_room_del,
// always fired after the triggering on_membership notification (spec.md
// §4.5, §8 scenario 5).
func (c *Client) handleSelfLeave(room *Room) {
	c.rooms.remove(room.ID)

	if c.obs != nil && c.obs.OnRoomDel != nil {
		c.obs.OnRoomDel(room)
	}
}

// dispatchToRoom is the dispatcher handler registered for the "m.room"
// prefix (spec.md §4.2 rule 2): it resolves ev.RoomID to a Room and folds
// the event forward through the room engine.
func (c *Client) dispatchToRoom(ev *Event, _ []string) error {
	room, ok := c.rooms.get(ev.RoomID)
	if !ok {
		// An event for a room the client hasn't joined/synced — most
		// commonly a fresh invite arriving over /events rather than
		// initialSync.
		if ev.Type == typeRoomMember && ev.StateKey != nil && id.UserID(*ev.StateKey) == c.selfID() {
			mc, err := normaliseMember(ev.Content)
			if err != nil {
				perr := &ProtocolError{EventType: ev.Type, Field: "content", Err: err}
				logger.Warnf("dispatch: %v", perr)
				c.obs.reportError(perr, "protocol", ev.Sender)
			}

			if mc.Membership != nil && *mc.Membership == MembershipInvite {
				if c.obs != nil && c.obs.OnInvite != nil {
					c.obs.OnInvite(ev)
				}

				return nil
			}
		}

		logger.Warnf("dispatch: event for unknown room %s (type %q)", ev.RoomID, ev.Type)

		return nil
	}

	return room.fold(ev, Forward, false, c.roomObs)
}

// handlePresence is the dispatcher handler registered for the
// "m.presence" prefix (spec.md §4.2 rule 3): it applies a presence event
// to the shared User record and reports changes on both observer surfaces.
func (c *Client) handlePresence(ev *Event, _ []string) error {
	var content struct {
		Presence      string `json:"presence"`
		LastActiveAgo *int64 `json:"last_active_ago"`
	}

	if err := decodeContent(ev.Content, &content); err != nil {
		perr := &ProtocolError{EventType: ev.Type, Field: "content", Err: err}
		logger.Warnf("presence: %v", perr)
		c.obs.reportError(perr, "protocol", ev.Sender)

		return nil
	}

	var presence *Presence
	if content.Presence != "" {
		p := Presence(content.Presence)
		presence = &p
	}

	user := c.users.getOrCreate(ev.Sender)
	changes := user.applyPresence(presence, content.LastActiveAgo)

	if len(changes) == 0 {
		return nil
	}

	if c.obs != nil && c.obs.OnPresence != nil {
		c.obs.OnPresence(user, changes)
	}

	if c.roomObs != nil && c.roomObs.OnPresence != nil {
		for _, room := range c.rooms.all() {
			if member, ok := room.Forward.Member(ev.Sender); ok {
				c.roomObs.OnPresence(member, changes)
			}
		}
	}

	return nil
}

func (c *Client) handleUnknownEvent(ev *Event) {
	if c.obs != nil && c.obs.OnUnknownEvent != nil {
		c.obs.OnUnknownEvent(ev)
		return
	}

	logger.Warnf("dispatch: no handler for event type %q", ev.Type)
}
