package sync

import (
	"fmt"
	"sync"
)

// Log wraps a Store with the preadd/add/clean event pipeline from
// spec.md §4.1. preadd runs synchronously as part of Add (it may
// short-circuit a locally-originated action's status), after which the
// Store rejects a duplicate id;
// add is dispatched asynchronously via the Bus so that a slow processor
// never blocks the caller that appended the action.
type Log struct {
	store Store
	nodeID string
	now   func() int64
	bus   *Bus

	hasProcessor func(actionType string) bool
	hasBackend   bool

	subprotocol string

	mu      sync.Mutex
	counter int64
}

func NewLog(store Store, nodeID string, now func() int64, bus *Bus) *Log {
	return &Log{
		store:  store,
		nodeID: nodeID,
		now:    now,
		bus:    bus,
	}
}

// bindTypeAwareness lets Server wire preadd's "no processor and no
// backend" short-circuit without Log importing TypeTable directly.
func (self *Log) bindTypeAwareness(hasProcessor func(string) bool, hasBackend bool, subprotocol string) {
	self.hasProcessor = hasProcessor
	self.hasBackend = hasBackend
	self.subprotocol = subprotocol
}

func (self *Log) nextCounter() int64 {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.counter += 1
	return self.counter
}

// GenerateID assigns a fresh "<counter> <nodeId> 0" id for a locally
// originated action.
func (self *Log) GenerateID() string {
	return fmt.Sprintf("%d %s %d", self.nextCounter(), self.nodeID, 0)
}

// preadd mutates meta in place per spec.md §4.1's "preadd" hook.
func (self *Log) preadd(action Action, meta *Meta) {
	meta.Normalize()

	if meta.Server == "" {
		meta.Server = self.nodeID
	}
	if !isLoguxType(action.Type) && meta.Status == "" {
		meta.Status = StatusWaiting
	}

	parsed, err := ParseActionID(meta.ID)
	originatesHere := err == nil && parsed.NodeID == self.nodeID
	if !originatesHere {
		return
	}

	if meta.Subprotocol == "" {
		meta.Subprotocol = self.subprotocol
	}

	if isLoguxType(action.Type) {
		return
	}
	hasProcessor := self.hasProcessor != nil && self.hasProcessor(action.Type)
	if !hasProcessor && !self.hasBackend {
		meta.Status = StatusProcessed
	}
}

// Add runs preadd synchronously, inserts into the Store, and dispatches
// "add" asynchronously. Returns (nil, false) on a duplicate id
// (spec.md §3 invariant 1).
func (self *Log) Add(action Action, meta *Meta) (*Meta, bool) {
	if meta.ID == "" {
		meta.ID = self.GenerateID()
	}

	self.preadd(action, meta)
	self.bus.Emit(EventPreadd, AddPayload{Action: action, Meta: meta})

	stored, ok := self.store.Add(action, meta)
	if !ok {
		return nil, false
	}

	go self.bus.Emit(EventAdd, AddPayload{Action: action, Meta: stored})

	return stored, true
}

// ChangeMeta mutates stored meta for id via the Store.
func (self *Log) ChangeMeta(id string, change func(*Meta)) (*Meta, bool) {
	return self.store.ChangeMeta(id, change)
}

func (self *Log) Has(id string) bool {
	return self.store.Has(id)
}

// Clean removes reason from every entry, reporting "clean" for each
// entry actually deleted (spec.md §4.1 "clean").
func (self *Log) Clean(reason string) {
	self.store.RemoveReason(reason, func(action Action, meta *Meta) {
		self.bus.Emit(EventClean, AddPayload{Action: action, Meta: meta})
	})
}

func (self *Log) Each(fn func(Action, *Meta) bool) {
	self.store.Each(fn)
}

func (self *Log) LastAdded() uint64 {
	return self.store.LastAdded()
}
