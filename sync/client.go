package sync

import (
	"fmt"
	"sync"
)

// ClientState enumerates the per-connection state machine from
// spec.md §4.6.
type ClientState string

const (
	StateNew            ClientState = "new"
	StateConnected      ClientState = "connected"
	StateAuthenticating ClientState = "authenticating"
	StateAuthenticated  ClientState = "authenticated"
	StateRejected       ClientState = "rejected"
	StateSynchronizing  ClientState = "synchronizing"
	StateIdle           ClientState = "idle"
	StateDestroyed      ClientState = "destroyed"
)

// ServerClient wraps one SyncPeer with authentication, bruteforce
// guarding, zombie eviction, subprotocol checking, and inbound filtering
// (spec.md §4.6). One ServerClient exclusively owns its SyncPeer, the
// way the teacher's Client exclusively owns its transports
// (connect/transfer.go's RouteManager per Client).
type ServerClient struct {
	server   *Server
	peer     SyncPeer
	Key      string
	RemoteIP string

	NodeID      string
	ClientID    string
	UserID      string
	Subprotocol string

	logFn LogFunction

	mu    sync.Mutex
	state ClientState
	zombie bool

	destroyOnce sync.Once
}

func NewServerClient(server *Server, peer SyncPeer, remoteIP string) *ServerClient {
	self := &ServerClient{
		server:   server,
		peer:     peer,
		Key:      server.registry.NextKey(),
		RemoteIP: remoteIP,
		state:    StateNew,
	}
	self.logFn = SubLogFn(LogLevelDebug, server.logFn, "client-"+self.Key)
	return self
}

func (self *ServerClient) State() ClientState {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.state
}

func (self *ServerClient) setState(state ClientState) {
	self.mu.Lock()
	self.state = state
	self.mu.Unlock()
}

// Start wires the peer's callbacks and runs its connection loop. Blocks
// until the connection ends; callers run it on its own goroutine per
// accepted connection.
func (self *ServerClient) Start() error {
	self.setState(StateConnected)
	self.server.registry.AddConnected(self.Key, self)
	self.server.report(EventConnected, map[string]any{"key": self.Key, "ip": self.RemoteIP})

	self.peer.SetAuth(self.authenticate)
	self.peer.OnConnect(self.onConnect)
	self.peer.OnReceive(self.onReceive)
	self.peer.OnClose(func(err error) { self.Destroy() })

	return self.peer.Run()
}

func (self *ServerClient) onConnect(remoteSubprotocol string, remoteNodeID string, headers map[string]string) error {
	if self.server.Options.Supports != "" && !SatisfiesRange(remoteSubprotocol, self.server.Options.Supports) {
		return &ProtocolError{Kind: KindWrongSubprotocol, Note: fmt.Sprintf(
			"subprotocol %s does not satisfy %s", remoteSubprotocol, self.server.Options.Supports)}
	}
	self.Subprotocol = remoteSubprotocol
	return nil
}

// authenticate is installed as the peer's auth hook (spec.md §4.6
// "Handshake & auth").
func (self *ServerClient) authenticate(credentials any, nodeID string, headers map[string]string) (bool, error) {
	self.setState(StateAuthenticating)

	if self.server.registry.IsBruteforce(self.RemoteIP) {
		self.setState(StateRejected)
		return false, &ProtocolError{Kind: KindBruteforce, Note: "too many auth attempts from " + self.RemoteIP}
	}

	userID, clientID := parseNodeID(nodeID)
	if userID == "server" {
		self.setState(StateRejected)
		return false, &ProtocolError{Kind: KindWrongCredentials, Note: "userId 'server' is reserved"}
	}

	if self.server.Options.Auth == nil {
		self.setState(StateRejected)
		return false, fmt.Errorf("no authenticator configured")
	}

	ok, err := self.server.Options.Auth(credentials, nodeID, headers)
	if err != nil {
		self.server.report(EventError, map[string]any{"nodeId": nodeID, "error": err.Error()})
		self.setState(StateRejected)
		return false, err
	}
	if !ok {
		self.server.registry.RecordAuthFailure(self.RemoteIP)
		self.server.report(EventUnauthenticated, map[string]any{"nodeId": nodeID})
		self.setState(StateRejected)
		return false, nil
	}

	self.NodeID = nodeID
	self.ClientID = clientID
	self.UserID = userID

	if zombie := self.server.registry.Authenticate(self); zombie != nil {
		zombie.markZombie()
		self.server.report(EventZombie, map[string]any{"nodeId": nodeID})
		zombie.Destroy()
	}

	self.setState(StateAuthenticated)
	self.server.report(EventAuthenticated, map[string]any{"nodeId": nodeID})
	self.setState(StateSynchronizing)

	return true, nil
}

func (self *ServerClient) markZombie() {
	self.mu.Lock()
	self.zombie = true
	self.mu.Unlock()
}

func (self *ServerClient) isZombie() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.zombie
}

// onReceive implements spec.md §4.6's "Inbound filter" and "Denial path".
func (self *ServerClient) onReceive(action Action, meta *Meta) {
	parsed, err := ParseActionID(meta.ID)
	if err != nil || (parsed.NodeID != self.NodeID && parsed.ClientID != self.ClientID) {
		self.deny(action, meta)
		return
	}

	// spec.md §4.6's inbound meta whitelist covers every field a wire
	// frame can carry, not just Extra: MetaFromWire folds status/server/
	// nodes/clients/users/channels straight into their typed Meta
	// fields, so a client-controlled meta with any of those set must be
	// denied the same as an unrecognized Extra key would be.
	if meta.Server != "" || meta.Status != "" ||
		len(meta.Nodes) > 0 || len(meta.Clients) > 0 || len(meta.Users) > 0 || len(meta.Channels) > 0 {
		self.deny(action, meta)
		return
	}

	for key := range meta.Extra {
		switch key {
		case "id", "time", "subprotocol":
		default:
			self.deny(action, meta)
			return
		}
	}

	if action.Type != TypeSubscribe && action.Type != TypeUnsubscribe {
		if processor := self.server.types.Lookup(action.Type); processor != nil {
			ctx := self.server.contextFor(meta)
			allowed, err := self.server.safeAccess(processor.Access, ctx, action, meta)
			if err != nil {
				self.server.report(EventError, map[string]any{"actionId": meta.ID, "error": err.Error()})
				self.deny(action, meta)
				return
			}
			if !allowed {
				self.deny(action, meta)
				return
			}
		}
	}

	self.server.log.Add(action, meta)
}

func (self *ServerClient) deny(action Action, meta *Meta) {
	self.server.report(EventDenied, map[string]any{"actionId": meta.ID})
	self.server.undo(meta, UndoReasonDenied, nil)
	if self.server.IsDevelopment() {
		self.SendDebug("Access denied to " + action.Type)
	}
}

// Deliver hands an outbound (action, meta) pair to this client's peer
// (spec.md §4.3 fan-out target).
func (self *ServerClient) Deliver(action Action, meta *Meta) {
	if err := self.peer.Send(action, meta); err != nil {
		self.logFn("deliver failed: %v", err)
	}
}

func (self *ServerClient) SendDebug(message string) {
	if err := self.peer.SendDebug(message); err != nil {
		self.logFn("send debug failed: %v", err)
	}
}

// Destroy implements spec.md §4.6's "Destroy": idempotent, removes the
// client from every index, prunes its subscriptions, and reports
// "disconnect" unless this was a zombie eviction or the server itself is
// tearing down.
func (self *ServerClient) Destroy() {
	self.destroyOnce.Do(func() {
		self.setState(StateDestroyed)
		self.server.registry.RemoveClient(self)
		self.peer.Close()

		if !self.isZombie() && !self.server.IsDestroying() {
			self.server.report(EventDisconnected, map[string]any{"nodeId": self.NodeID})
		}
	})
}
