package sync

import "sync"

// fakePeer is a no-op SyncPeer used to drive Server/ServerClient tests
// without a real websocket connection. Run blocks until Close, mirroring
// a real peer's connection lifetime.
type fakePeer struct {
	mu   sync.Mutex
	sent []sentFrame

	closed chan struct{}
	once   sync.Once
}

type sentFrame struct {
	action Action
	meta   *Meta
	debug  string
}

func newFakePeer() *fakePeer {
	return &fakePeer{closed: make(chan struct{})}
}

func (self *fakePeer) SetAuth(auth Authenticator) {}
func (self *fakePeer) OnConnect(handler func(string, string, map[string]string) error) {}
func (self *fakePeer) OnReceive(handler func(Action, *Meta))                           {}
func (self *fakePeer) OnClose(handler func(error))                                     {}

func (self *fakePeer) Send(action Action, meta *Meta) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.sent = append(self.sent, sentFrame{action: action, meta: meta})
	return nil
}

func (self *fakePeer) SendDebug(message string) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.sent = append(self.sent, sentFrame{debug: message})
	return nil
}

func (self *fakePeer) Run() error {
	<-self.closed
	return nil
}

func (self *fakePeer) Close() error {
	self.once.Do(func() { close(self.closed) })
	return nil
}

func (self *fakePeer) framesSent() []sentFrame {
	self.mu.Lock()
	defer self.mu.Unlock()
	out := make([]sentFrame, len(self.sent))
	copy(out, self.sent)
	return out
}

// newAuthenticatedClient registers a fully authenticated client the way
// authenticate() would, without running the blocking Start()/Run() loop,
// so pipeline tests can drive dispatch directly.
func newAuthenticatedClient(server *Server, nodeID string) (*ServerClient, *fakePeer) {
	peer := newFakePeer()
	client := NewServerClient(server, peer, "203.0.113.1")
	client.UserID, client.ClientID = parseNodeID(nodeID)
	client.NodeID = nodeID
	server.registry.AddConnected(client.Key, client)
	server.registry.Authenticate(client)
	client.setState(StateSynchronizing)
	return client, peer
}
