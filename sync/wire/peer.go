// Package wire provides a gorilla/websocket implementation of
// sync.SyncPeer, the concrete transport left opaque by the core package
// (spec.md §6, "Wire protocol delegated to sync peer").
package wire

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	logux "github.com/loguxgo/server/sync"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is the wire envelope. The first element is the frame kind:
//   ["connect", subprotocol, nodeId]
//   ["authenticated", credentials]  (credentials -> server)
//   ["sync", action, meta]
//   ["debug", "error", message]
//   ["error", kind, note]
type frame []json.RawMessage

// Peer is a server-side connection over one *websocket.Conn, satisfying
// sync.SyncPeer. It mirrors connect/transport.go's send/receive channel
// pump pair and read/write deadline discipline, adapted from a client
// dialer to a server-accepted connection.
type Peer struct {
	conn *websocket.Conn

	timeout time.Duration
	ping    time.Duration

	auth      logux.Authenticator
	onConnect func(remoteSubprotocol string, remoteNodeID string, headers map[string]string) error
	onReceive func(action logux.Action, meta *logux.Meta)
	onClose   func(err error)

	headers map[string]string

	writeMu sync.Mutex
	closeOnce sync.Once
	closed  chan struct{}
}

// Upgrade upgrades an HTTP request to a websocket connection and wraps it
// as a sync.SyncPeer. timeout/ping mirror Options.Timeout/Options.Ping.
func Upgrade(w http.ResponseWriter, r *http.Request, timeout time.Duration, ping time.Duration) (*Peer, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	return &Peer{
		conn:    conn,
		timeout: timeout,
		ping:    ping,
		headers: headers,
		closed:  make(chan struct{}),
	}, nil
}

func (self *Peer) SetAuth(auth logux.Authenticator) { self.auth = auth }

func (self *Peer) OnConnect(handler func(remoteSubprotocol string, remoteNodeID string, headers map[string]string) error) {
	self.onConnect = handler
}

func (self *Peer) OnReceive(handler func(action logux.Action, meta *logux.Meta)) {
	self.onReceive = handler
}

func (self *Peer) OnClose(handler func(err error)) { self.onClose = handler }

// Run drives the connection: expects a "connect" frame, then an
// "authenticated" frame carrying credentials, then loops reading "sync"
// frames until timeout, error, or Close (spec.md §4.6 handshake, §5
// "Cancellation and timeouts").
func (self *Peer) Run() (runErr error) {
	defer func() {
		self.closeOnce.Do(func() { close(self.closed) })
		if self.onClose != nil {
			self.onClose(runErr)
		}
	}()

	self.conn.SetReadDeadline(time.Now().Add(self.timeout))

	remoteSubprotocol, remoteNodeID, err := self.readConnect()
	if err != nil {
		return err
	}
	if self.onConnect != nil {
		if err := self.onConnect(remoteSubprotocol, remoteNodeID, self.headers); err != nil {
			self.sendError(err)
			return err
		}
	}

	credentials, err := self.readAuthenticate()
	if err != nil {
		return err
	}

	if self.auth != nil {
		ok, err := self.auth(credentials, remoteNodeID, self.headers)
		if err != nil {
			self.sendError(err)
			return err
		}
		if !ok {
			protoErr := &logux.ProtocolError{Kind: logux.KindWrongCredentials, Note: "credentials rejected"}
			self.sendError(protoErr)
			return protoErr
		}
	}

	go self.pingLoop()

	for {
		self.conn.SetReadDeadline(time.Now().Add(self.timeout))
		_, raw, err := self.conn.ReadMessage()
		if err != nil {
			return nil
		}
		if len(raw) == 0 {
			continue // ping
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil || len(f) < 1 {
			protoErr := &logux.ProtocolError{Kind: logux.KindWrongFormat, Note: "malformed frame"}
			self.sendError(protoErr)
			return protoErr
		}

		var kind string
		if err := json.Unmarshal(f[0], &kind); err != nil {
			continue
		}

		switch kind {
		case "sync":
			if len(f) < 3 {
				continue
			}
			var rawAction, rawMeta map[string]any
			if err := json.Unmarshal(f[1], &rawAction); err != nil {
				continue
			}
			if err := json.Unmarshal(f[2], &rawMeta); err != nil {
				continue
			}
			if self.onReceive != nil {
				self.onReceive(logux.ActionFromWire(rawAction), logux.MetaFromWire(rawMeta))
			}
		default:
			glog.V(2).Infof("wire: ignoring unknown frame kind %q", kind)
		}
	}
}

func (self *Peer) readConnect() (subprotocol string, nodeID string, err error) {
	_, raw, err := self.conn.ReadMessage()
	if err != nil {
		return "", "", err
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil || len(f) < 3 {
		return "", "", &logux.ProtocolError{Kind: logux.KindWrongFormat, Note: "expected connect frame"}
	}
	json.Unmarshal(f[1], &subprotocol)
	json.Unmarshal(f[2], &nodeID)
	return subprotocol, nodeID, nil
}

func (self *Peer) readAuthenticate() (credentials any, err error) {
	_, raw, err := self.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil || len(f) < 2 {
		return nil, &logux.ProtocolError{Kind: logux.KindWrongFormat, Note: "expected authenticated frame"}
	}
	var creds any
	json.Unmarshal(f[1], &creds)
	return creds, nil
}

func (self *Peer) pingLoop() {
	ticker := time.NewTicker(self.ping)
	defer ticker.Stop()
	for {
		select {
		case <-self.closed:
			return
		case <-ticker.C:
			self.writeMu.Lock()
			self.conn.SetWriteDeadline(time.Now().Add(self.timeout))
			err := self.conn.WriteMessage(websocket.BinaryMessage, []byte{})
			self.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (self *Peer) writeFrame(f []any) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	self.writeMu.Lock()
	defer self.writeMu.Unlock()
	self.conn.SetWriteDeadline(time.Now().Add(self.timeout))
	return self.conn.WriteMessage(websocket.TextMessage, payload)
}

func (self *Peer) Send(action logux.Action, meta *logux.Meta) error {
	return self.writeFrame([]any{"sync", logux.ActionToWire(action), logux.MetaToWire(meta)})
}

func (self *Peer) SendDebug(message string) error {
	return self.writeFrame([]any{"debug", "error", message})
}

func (self *Peer) sendError(err error) {
	kind := "error"
	if protoErr, ok := err.(*logux.ProtocolError); ok {
		kind = protoErr.Kind
	}
	self.writeFrame([]any{"error", kind, err.Error()})
}

func (self *Peer) Close() error {
	self.closeOnce.Do(func() { close(self.closed) })
	return self.conn.Close()
}
