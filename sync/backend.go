package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// backendChunk is one JSON object out of the backend's streamed response
// body (spec.md §4.7): either a verdict ("approved", "forbidden",
// "unknownAction", "unknownChannel", an auth "authenticated"/"denied"),
// or a terminal "processed"/"error" body.
type backendChunk struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Stack  string `json:"stack,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// BackendProxy delegates auth/access/process to an HTTP backend
// (spec.md §4.7). It registers itself as the server's Auth hook and as
// the fallback ("other") type and channel processor.
type BackendProxy struct {
	server *Server
	url    string
	secret string

	client *http.Client

	mu      sync.Mutex
	pending map[string]chan backendChunk
}

func NewBackendProxy(server *Server, url string, secret string) *BackendProxy {
	return &BackendProxy{
		server:  server,
		url:     url,
		secret:  secret,
		pending: map[string]chan backendChunk{},
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Register wires the proxy into the server as auth, otherType, and
// otherChannel (spec.md §4.7).
func (self *BackendProxy) Register() {
	self.server.Options.Auth = self.Auth

	self.server.OtherType(&Processor{
		Access: func(ctx *Context, action Action, meta *Meta) (bool, error) {
			return self.callAction(action, meta)
		},
		Process: func(ctx *Context, action Action, meta *Meta) error {
			return self.awaitProcess(meta)
		},
	})

	self.server.OtherChannel(&ChannelCallbacks{
		Access: func(ctx *Context, action Action, meta *Meta) (bool, error) {
			return self.callAction(action, meta)
		},
	})
}

func (self *BackendProxy) post(commands []any) (*http.Response, error) {
	body, err := json.Marshal(map[string]any{
		"version":  1,
		"secret":   self.secret,
		"commands": commands,
	})
	if err != nil {
		return nil, err
	}

	resp, err := self.client.Post(self.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("backend responded with status %d", resp.StatusCode)
	}
	return resp, nil
}

// Auth implements spec.md §4.7's "auth command".
func (self *BackendProxy) Auth(credentials any, nodeID string, headers map[string]string) (bool, error) {
	userID, _ := parseNodeID(nodeID)
	authID := NewNodeRand()

	resp, err := self.post([]any{[]any{"auth", userID, credentials, authID}})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for decoder.More() {
		var chunk backendChunk
		if err := decoder.Decode(&chunk); err != nil {
			return false, fmt.Errorf("Backend wrong answer")
		}
		switch chunk.Type {
		case "authenticated":
			return true, nil
		case "denied":
			return false, nil
		case "error":
			return false, fmt.Errorf("backend auth error: %s", chunk.Stack)
		}
	}
	return false, fmt.Errorf("Backend wrong answer")
}

// callAction implements spec.md §4.7's "action command": the response
// body streams a verdict chunk first, then (later) a terminal chunk
// carrying the process phase's outcome. The verdict is decoded and
// returned synchronously; a background goroutine keeps reading the same
// body for the terminal chunk and feeds it to awaitProcess via
// self.pending, mirroring the incremental streaming decoder spec.md §9
// asks for instead of a regex peek at the raw bytes.
func (self *BackendProxy) callAction(action Action, meta *Meta) (bool, error) {
	resp, err := self.post([]any{[]any{"action", ActionToWire(action), MetaToWire(meta)}})
	if err != nil {
		return false, err
	}

	decoder := json.NewDecoder(resp.Body)
	var verdict backendChunk
	if err := decoder.Decode(&verdict); err != nil {
		resp.Body.Close()
		return false, fmt.Errorf("Backend wrong answer")
	}

	resultCh := make(chan backendChunk, 1)
	self.mu.Lock()
	self.pending[meta.ID] = resultCh
	self.mu.Unlock()

	go func() {
		defer resp.Body.Close()
		defer func() {
			self.mu.Lock()
			delete(self.pending, meta.ID)
			self.mu.Unlock()
		}()

		for decoder.More() {
			var chunk backendChunk
			if err := decoder.Decode(&chunk); err != nil {
				return
			}
			if chunk.ID == meta.ID && (chunk.Type == "processed" || chunk.Type == "error") {
				resultCh <- chunk
				return
			}
		}
	}()

	switch verdict.Type {
	case "approved":
		return true, nil
	case "forbidden":
		return false, nil
	case "unknownAction", "unknownChannel":
		return false, fmt.Errorf("backend reported %s", verdict.Type)
	case "error":
		return false, fmt.Errorf("backend error: %s", verdict.Stack)
	default:
		return false, fmt.Errorf("Backend wrong answer")
	}
}

func (self *BackendProxy) awaitProcess(meta *Meta) error {
	self.mu.Lock()
	ch, ok := self.pending[meta.ID]
	self.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending backend call for %s", meta.ID)
	}

	chunk := <-ch
	if chunk.Type == "error" {
		return fmt.Errorf("backend process error: %s", chunk.Stack)
	}
	return nil
}

// InjectAction validates and inserts a backend-originated action
// (spec.md §4.7, "Backend-originated actions arrive via the control
// endpoint"). remoteIP annotates the meta the way the teacher's
// net_extender_server.go stamps every accepted session with its peer
// address.
func (self *BackendProxy) InjectAction(rawAction map[string]any, rawMeta map[string]any, remoteIP net.IP) error {
	action := ActionFromWire(rawAction)
	if action.Type == "" {
		return fmt.Errorf("action missing type")
	}
	meta := MetaFromWire(rawMeta)
	if meta.ID == "" {
		meta.ID = self.server.log.GenerateID()
	}
	meta.Extra["remoteIp"] = remoteIP.String()

	if self.server.types.Lookup(action.Type) == nil {
		meta.Status = StatusProcessed
	}

	_, ok := self.server.log.Add(action, meta)
	if !ok {
		return fmt.Errorf("duplicate action id %s", meta.ID)
	}
	return nil
}
