package sync

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ControlEndpoint is the small HTTP server bound to controlHost:controlPort
// (spec.md §4.8). GET /status is always safe; every other route requires
// the caller's IP to fall inside controlMask and requires the request to
// carry the configured controlSecret.
type ControlEndpoint struct {
	server *Server
	http   *http.Server
	mask   *net.IPNet
}

// NewControlEndpoint builds the router but does not bind a listener yet;
// call Listen to actually accept connections. Splitting construction from
// binding keeps NewServer itself free of side effects that can fail for
// reasons unrelated to the sync log (a taken port, a bad CIDR), and lets
// a process embedding multiple *Server values decide which of them, if
// any, owns the control port.
func NewControlEndpoint(server *Server) *ControlEndpoint {
	self := &ControlEndpoint{server: server}

	if _, mask, err := net.ParseCIDR(server.Options.ControlMask); err == nil {
		self.mask = mask
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/status", self.status)
	router.POST("/", self.action)

	self.http = &http.Server{
		Addr:    net.JoinHostPort(server.Options.ControlHost, itoa(uint64(server.Options.ControlPort))),
		Handler: router,
	}

	return self
}

// Listen binds the control endpoint's listener and serves in the
// background. The bind itself happens synchronously so callers learn
// about a taken port immediately; Serve's post-bind failures
// still only get logged, mirroring tetherctl/api.go's startApi.
func (self *ControlEndpoint) Listen() error {
	listener, err := net.Listen("tcp", self.http.Addr)
	if err != nil {
		return &FatalError{Kind: KindAddrInUse, Note: "control endpoint bind failed", Err: err}
	}

	go func() {
		if err := self.http.Serve(listener); err != nil && err != http.ErrServerClosed {
			self.server.logFn("control endpoint stopped: %v", err)
		}
	}()

	return nil
}

func (self *ControlEndpoint) status(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// action implements spec.md §4.7/§4.8's backend-originated POST /: gated
// by controlMask + controlSecret, then injects each command's action
// through the backend proxy.
func (self *ControlEndpoint) action(c *gin.Context) {
	if !self.allowed(c) {
		return
	}

	if self.server.backend == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Version  int    `json:"version"`
		Secret   string `json:"secret"`
		Commands [][]any `json:"commands"`
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if body.Secret != self.server.Options.ControlSecret {
		self.server.report(EventClientError, map[string]any{"reason": "wrongControlSecret"})
		c.Status(http.StatusForbidden)
		return
	}

	remoteIP := clientIP(c)
	for _, cmd := range body.Commands {
		if len(cmd) < 3 {
			continue
		}
		name, _ := cmd[0].(string)
		if name != "action" {
			continue
		}
		action, _ := cmd[1].(map[string]any)
		meta, _ := cmd[2].(map[string]any)
		if err := self.server.backend.InjectAction(action, meta, remoteIP); err != nil {
			self.server.logFn("control action injection failed: %v", err)
		}
	}

	c.Status(http.StatusOK)
}

// allowed enforces the controlMask CIDR check (spec.md §4.8) and reports
// wrongControlIp on failure, with no body leakage either way.
func (self *ControlEndpoint) allowed(c *gin.Context) bool {
	ip := clientIP(c)
	if self.mask == nil || !self.mask.Contains(ip) {
		self.server.report(EventClientError, map[string]any{"reason": "wrongControlIp"})
		c.Status(http.StatusForbidden)
		return false
	}
	return true
}

func clientIP(c *gin.Context) net.IP {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		host = c.Request.RemoteAddr
	}
	return net.ParseIP(host)
}

// Stop shuts the control endpoint down gracefully, mirroring
// tetherctl/api.go's stopApi bounded-wait pattern.
func (self *ControlEndpoint) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	self.http.Shutdown(ctx)
}
