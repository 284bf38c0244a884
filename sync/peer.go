package sync

// SyncPeer is the external "sync peer" collaborator from spec.md §6: the
// wire codec and low-level framing of the sync protocol are out of
// scope for this package and delegated entirely to an implementation of
// this interface (see sync/wire for a concrete gorilla/websocket one).
//
// Lifecycle: the caller registers every On* callback before calling Run,
// which blocks the calling goroutine until the connection ends (cleanly
// or via a ProtocolError). This mirrors the teacher's Client.run
// (connect/transfer.go), which is also handed its collaborators
// (RouteManager, ContractManager) before being run on its own goroutine.
type SyncPeer interface {
	// SetAuth installs the hook the peer invokes once it has parsed the
	// remote's handshake credentials and nodeId off the wire.
	SetAuth(auth Authenticator)

	// OnConnect fires once the wire handshake completes, with the
	// remote's advertised subprotocol and nodeId. Returning a non-nil
	// error (typically a *ProtocolError, e.g. wrong-subprotocol) aborts
	// the connection before any action flows.
	OnConnect(handler func(remoteSubprotocol string, remoteNodeID string, headers map[string]string) error)

	// OnReceive fires for every inbound (action, meta) pair, in wire
	// order, after the peer has decoded the frame but before any
	// server-side authorization.
	OnReceive(handler func(action Action, meta *Meta))

	// OnClose fires once, when the connection ends for any reason. err
	// is the error that ended the handshake or authentication (a
	// *ProtocolError for wire-format, subprotocol and credential
	// failures), or nil once the post-handshake read loop ends, whether
	// by a clean disconnect, a read error or a read timeout.
	OnClose(handler func(err error))

	// Send enqueues an outbound action for delivery to this peer.
	Send(action Action, meta *Meta) error

	// SendDebug emits a ['debug', 'error', message] frame (spec.md §6),
	// used only in development mode.
	SendDebug(message string) error

	// Run drives the connection until it ends. Safe to call once.
	Run() error

	// Close ends the connection from the server side.
	Close() error
}
