package sync

import (
	"sync"
	"time"
)

// Filter decides whether a channel subscriber should receive a given
// action. A subscription's filter is either "true" (AllowAllFilter) or a
// function evaluated lazily and cached once per sendAction dispatch
// (spec.md §4.3).
type Filter func(ctx *Context, action Action, meta *Meta) bool

func AllowAllFilter(ctx *Context, action Action, meta *Meta) bool {
	return true
}

// Registry holds every in-memory index the server needs (spec.md §3
// invariant 6, §5 "shared-resource policy"). A single RWMutex guards the
// connection, identity and subscription indexes; the bruteforce counters
// have their own authMu. Dispatch of one action touches several of these
// maps together (e.g. destroy removes from five maps at once) and the teacher's own
// registries (connect/transfer_route_manager.go's RouteManager) favor
// one coarse lock over per-map locks for exactly that reason.
type Registry struct {
	mu sync.RWMutex

	connected map[string]*ServerClient // connection key -> client
	nodeIDs   map[string]*ServerClient // nodeId -> client
	clientIDs map[string]*ServerClient // clientId -> client
	userIDs   map[string]map[string]*ServerClient // userId -> connection key -> client

	// subscribers[channel][nodeId] = filter
	subscribers map[string]map[string]Filter

	authMu       sync.Mutex
	authAttempts map[string]int // source ip -> failure count

	nextKey uint64
}

func NewRegistry() *Registry {
	return &Registry{
		connected:    map[string]*ServerClient{},
		nodeIDs:      map[string]*ServerClient{},
		clientIDs:    map[string]*ServerClient{},
		userIDs:      map[string]map[string]*ServerClient{},
		subscribers:  map[string]map[string]Filter{},
		authAttempts: map[string]int{},
	}
}

// NextKey mints the numeric connection key assigned on accept.
func (self *Registry) NextKey() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.nextKey += 1
	return itoa(self.nextKey)
}

func (self *Registry) AddConnected(key string, client *ServerClient) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.connected[key] = client
}

func (self *Registry) RemoveConnected(key string) {
	self.mu.Lock()
	defer self.mu.Unlock()
	delete(self.connected, key)
}

// Authenticate registers an authenticated client under its identity
// indexes. If another client already holds nodeID, it is returned so the
// caller can evict it as a zombie (spec.md §4.6).
func (self *Registry) Authenticate(client *ServerClient) (zombie *ServerClient) {
	self.mu.Lock()
	defer self.mu.Unlock()

	zombie = self.nodeIDs[client.NodeID]

	self.nodeIDs[client.NodeID] = client
	self.clientIDs[client.ClientID] = client
	if self.userIDs[client.UserID] == nil {
		self.userIDs[client.UserID] = map[string]*ServerClient{}
	}
	self.userIDs[client.UserID][client.Key] = client

	return zombie
}

// RemoveClient deletes client from every index it participates in and
// prunes any channel subscription recorded under its nodeId. A channel
// whose last subscriber is removed is deleted from subscribers; nothing
// is returned or reported for it.
func (self *Registry) RemoveClient(client *ServerClient) {
	self.mu.Lock()
	defer self.mu.Unlock()

	delete(self.connected, client.Key)
	if self.nodeIDs[client.NodeID] == client {
		delete(self.nodeIDs, client.NodeID)
	}
	if self.clientIDs[client.ClientID] == client {
		delete(self.clientIDs, client.ClientID)
	}
	if users := self.userIDs[client.UserID]; users != nil {
		delete(users, client.Key)
		if len(users) == 0 {
			delete(self.userIDs, client.UserID)
		}
	}

	for channel, subs := range self.subscribers {
		if _, ok := subs[client.NodeID]; ok {
			delete(subs, client.NodeID)
			if len(subs) == 0 {
				delete(self.subscribers, channel)
			}
		}
	}
}

func (self *Registry) ByNodeID(nodeID string) (*ServerClient, bool) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	c, ok := self.nodeIDs[nodeID]
	return c, ok
}

func (self *Registry) ByClientID(clientID string) (*ServerClient, bool) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	c, ok := self.clientIDs[clientID]
	return c, ok
}

func (self *Registry) ByUserID(userID string) []*ServerClient {
	self.mu.RLock()
	defer self.mu.RUnlock()
	clients := make([]*ServerClient, 0, len(self.userIDs[userID]))
	for _, c := range self.userIDs[userID] {
		clients = append(clients, c)
	}
	return clients
}

func (self *Registry) IsConnected(key string) bool {
	self.mu.RLock()
	defer self.mu.RUnlock()
	_, ok := self.connected[key]
	return ok
}

// Subscribe records subscribers[channel][nodeId] = filter. Returns true
// if this created a brand new channel key (spec.md §4.4 step 6).
func (self *Registry) Subscribe(channel string, nodeID string, filter Filter) (isNewChannel bool) {
	self.mu.Lock()
	defer self.mu.Unlock()

	subs, exists := self.subscribers[channel]
	if !exists {
		subs = map[string]Filter{}
		self.subscribers[channel] = subs
	}
	subs[nodeID] = filter
	return !exists
}

// Unsubscribe removes subscribers[channel][nodeId], deleting the channel
// key entirely once its last subscriber is gone (spec.md §3 invariant 5).
func (self *Registry) Unsubscribe(channel string, nodeID string) {
	self.mu.Lock()
	defer self.mu.Unlock()

	subs, ok := self.subscribers[channel]
	if !ok {
		return
	}
	delete(subs, nodeID)
	if len(subs) == 0 {
		delete(self.subscribers, channel)
	}
}

func (self *Registry) IsSubscribed(channel string, nodeID string) bool {
	self.mu.RLock()
	defer self.mu.RUnlock()
	subs, ok := self.subscribers[channel]
	if !ok {
		return false
	}
	_, ok = subs[nodeID]
	return ok
}

// SubscribersOf returns a snapshot copy of channel's subscriber -> filter
// map so callers can iterate without holding the registry lock.
func (self *Registry) SubscribersOf(channel string) map[string]Filter {
	self.mu.RLock()
	defer self.mu.RUnlock()
	subs := self.subscribers[channel]
	out := make(map[string]Filter, len(subs))
	for nodeID, filter := range subs {
		out[nodeID] = filter
	}
	return out
}

// RecordAuthFailure increments the bruteforce counter for ip and
// schedules its decay 3 seconds out (spec.md §3, "Auth attempt counter").
func (self *Registry) RecordAuthFailure(ip string) {
	self.authMu.Lock()
	self.authAttempts[ip] += 1
	self.authMu.Unlock()

	time.AfterFunc(3*time.Second, func() {
		self.authMu.Lock()
		defer self.authMu.Unlock()
		if self.authAttempts[ip] > 0 {
			self.authAttempts[ip] -= 1
		}
		if self.authAttempts[ip] == 0 {
			delete(self.authAttempts, ip)
		}
	})
}

const bruteforceThreshold = 3

func (self *Registry) IsBruteforce(ip string) bool {
	self.authMu.Lock()
	defer self.authMu.Unlock()
	return self.authAttempts[ip] >= bruteforceThreshold
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for v > 0 {
		i -= 1
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}
