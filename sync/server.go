package sync

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Env selects logging/debug behavior (spec.md §6 "env").
type Env string

const (
	EnvProduction  Env = "production"
	EnvDevelopment Env = "development"
)

// Authenticator validates client credentials during handshake
// (spec.md §4.6). Returning (false, nil) is a normal auth rejection;
// a non-nil error is a server-side fault surfaced as EventError.
type Authenticator func(credentials any, nodeID string, headers map[string]string) (bool, error)

// Options configures NewServer (spec.md §6 "Configuration").
type Options struct {
	Subprotocol string
	Supports    string

	Root string

	Timeout time.Duration
	Ping    time.Duration

	Backend       string
	ControlSecret string
	ControlMask   string
	ControlHost   string
	ControlPort   int

	Store Store
	Now   func() int64
	ID    string

	Env Env

	Host string
	Port int
	Key  string
	Cert string

	Auth Authenticator
}

func (self *Options) fillDefaults() {
	if self.Timeout == 0 {
		self.Timeout = 20 * time.Second
	}
	if self.Ping == 0 {
		self.Ping = 10 * time.Second
	}
	if self.ControlMask == "" {
		self.ControlMask = "127.0.0.1/8"
	}
	if self.ControlPort == 0 {
		self.ControlPort = 31338
	}
	if self.Host == "" {
		self.Host = "127.0.0.1"
	}
	if self.Port == 0 {
		self.Port = 31337
	}
	if self.Store == nil {
		self.Store = NewMemoryStore()
	}
	if self.Now == nil {
		self.Now = func() int64 { return time.Now().UnixMilli() }
	}
	if self.Env == "" {
		self.Env = EnvDevelopment
	}
	if self.ID == "" {
		self.ID = NewNodeRand()
	}
}

func (self *Options) validate() error {
	if self.Backend == "" {
		if self.Subprotocol == "" {
			return &OptionError{Note: "subprotocol is required unless backend is set"}
		}
		if self.Supports == "" {
			return &OptionError{Note: "supports is required unless backend is set"}
		}
	}
	if self.Backend != "" && self.ControlSecret == "" {
		return &FatalError{Kind: KindNoControlSecret, Note: "controlSecret is required when backend is set"}
	}
	return nil
}

// Server is the core sync node (spec.md §2). It owns the log, every
// registry, the type/channel tables, and every server client.
type Server struct {
	Options Options
	NodeID  string

	log     *Log
	types   *TypeTable
	channels *ChannelTable
	registry *Registry
	bus     *Bus

	backend *BackendProxy
	control *ControlEndpoint

	logFn LogFunction

	destroying int32
	inFlight   int32
	doneOnce   sync.Once
	done       chan struct{}
}

func NewServer(options Options) (*Server, error) {
	options.fillDefaults()
	if err := options.validate(); err != nil {
		return nil, err
	}

	self := &Server{
		Options:  options,
		NodeID:   ServerNodeID(options.ID),
		types:    NewTypeTable(),
		channels: NewChannelTable(),
		registry: NewRegistry(),
		bus:      NewBus(),
		done:     make(chan struct{}),
	}
	self.logFn = LogFn(LogLevelInfo, "sync")
	self.log = NewLog(options.Store, self.NodeID, options.Now, self.bus)
	self.log.bindTypeAwareness(
		func(actionType string) bool { return self.types.Lookup(actionType) != nil },
		options.Backend != "",
		options.Subprotocol,
	)

	if options.Backend != "" {
		self.backend = NewBackendProxy(self, options.Backend, options.ControlSecret)
		self.backend.Register()
	}

	self.control = NewControlEndpoint(self)

	self.bus.On(EventAdd, func(payload any) {
		// Guarded like the Processed/Error listeners below: EventAdd
		// is meant to carry only the log-originated AddPayload, but a
		// bare assertion here previously panicked in production
		// whenever some other emitter reused the name with a
		// different payload shape.
		if p, ok := payload.(AddPayload); ok {
			self.dispatchAdd(p.Action, p.Meta)
		}
	})

	return self, nil
}

func (self *Server) Log() *Log           { return self.log }
func (self *Server) Types() *TypeTable   { return self.types }
func (self *Server) Channels() *ChannelTable { return self.channels }
func (self *Server) Registry() *Registry { return self.registry }
func (self *Server) Bus() *Bus           { return self.bus }
func (self *Server) IsDevelopment() bool { return self.Options.Env == EnvDevelopment }
func (self *Server) IsDestroying() bool  { return atomic.LoadInt32(&self.destroying) != 0 }

// Type registers an exact-match processor for actionType.
func (self *Server) Type(actionType string, processor *Processor) {
	self.types.Type(actionType, processor)
}

func (self *Server) OtherType(processor *Processor) {
	self.types.OtherType(processor)
}

func (self *Server) Channel(pattern string, callbacks *ChannelCallbacks) {
	self.channels.Channel(pattern, callbacks)
}

func (self *Server) OtherChannel(callbacks *ChannelCallbacks) {
	self.channels.OtherChannel(callbacks)
}

// Add appends action to the log. When meta.ID is empty it is assigned a
// fresh id under the server's own nodeId, i.e. as if it were locally
// originated (spec.md §4.1 "if the entry originates on this server"); a
// caller-supplied id is kept as is.
func (self *Server) Add(action Action, meta *Meta) (*Meta, bool) {
	if meta.ID == "" {
		meta.ID = self.log.GenerateID()
	}
	return self.log.Add(action, meta)
}

// Process adds action to the log and blocks until the matching
// "processed" event fires (success) or "error" fires (failure), per
// spec.md §4.5's process() helper.
func (self *Server) Process(action Action, meta *Meta) error {
	if meta.ID == "" {
		meta.ID = self.log.GenerateID()
	}

	result := make(chan error, 1)
	var once sync.Once

	// EventError also carries plain ReportPayload for observability-only
	// occurrences (auth failures, finally-hook panics) that have no
	// associated pending Process() call; ignore anything that isn't the
	// coordination payload this wait cares about.
	cancelProcessed := self.bus.On(EventProcessed, func(payload any) {
		if p, ok := payload.(ProcessedPayload); ok && p.Meta.ID == meta.ID {
			once.Do(func() { result <- nil })
		}
	})
	cancelError := self.bus.On(EventError, func(payload any) {
		if p, ok := payload.(ErrorPayload); ok && p.Meta != nil && p.Meta.ID == meta.ID {
			once.Do(func() { result <- p.Err })
		}
	})
	defer cancelProcessed()
	defer cancelError()

	if _, ok := self.log.Add(action, meta); !ok {
		return fmt.Errorf("duplicate action id %s", meta.ID)
	}

	return <-result
}

func (self *Server) beginProcess() {
	atomic.AddInt32(&self.inFlight, 1)
}

func (self *Server) endProcess() {
	if atomic.AddInt32(&self.inFlight, -1) == 0 && self.IsDestroying() {
		self.doneOnce.Do(func() { close(self.done) })
	}
}

// Destroy stops accepting new work, disconnects all clients, and
// resolves once every in-flight process() callback has settled
// (spec.md §5, "Cancellation and timeouts").
func (self *Server) Destroy() {
	if !atomic.CompareAndSwapInt32(&self.destroying, 0, 1) {
		<-self.done
		return
	}

	self.registry.mu.RLock()
	clients := make([]*ServerClient, 0, len(self.registry.connected))
	for _, c := range self.registry.connected {
		clients = append(clients, c)
	}
	self.registry.mu.RUnlock()

	for _, c := range clients {
		c.Destroy()
	}

	if self.control != nil {
		self.control.Stop()
	}

	if atomic.LoadInt32(&self.inFlight) == 0 {
		self.doneOnce.Do(func() { close(self.done) })
	}
	<-self.done
}

// Addr resolves the host:port this server binds sync
// connections on, for callers wiring their own net.Listener /
// http.Server the way net_http.go's defaultClient() composes transports.
func (self *Server) Addr() string {
	return net.JoinHostPort(self.Options.Host, itoa(uint64(self.Options.Port)))
}

// ListenControl binds the control endpoint (spec.md §4.8). It is
// separate from NewServer so tests and multi-server processes can skip
// it, and so cmd/loguxd can treat a taken control port as a startup
// fatal error rather than a background log line.
func (self *Server) ListenControl() error {
	return self.control.Listen()
}
