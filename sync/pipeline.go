package sync

import (
	"fmt"
)

// report feeds both the structured Bus (for the observability-only
// event names) and the plain-text log, mirroring how the teacher's
// LogFunction sits alongside typed callbacks (connect/transfer.go's
// ReceiveFunction/ForwardFunction) rather than replacing them.
func (self *Server) report(event string, fields map[string]any) {
	self.bus.Emit(event, ReportPayload{Fields: fields})
	self.logFn("%s %v", event, fields)
}

// emitProcessed and emitError are the sole emission points for
// EventProcessed/EventError's coordination payload (ProcessedPayload /
// ErrorPayload), kept separate from report()'s ReportPayload so that a
// listener (Server.Process's completion wait, testable property #2's
// "exactly one terminal outcome") can type-assert without also seeing
// the unrelated observability shape on the same event name.
func (self *Server) emitProcessed(meta *Meta, latencyMs int64) {
	self.logFn("processed actionId=%s latencyMs=%d", meta.ID, latencyMs)
	self.bus.Emit(EventProcessed, ProcessedPayload{Meta: meta, LatencyMs: latencyMs})
}

func (self *Server) emitError(meta *Meta, err error) {
	self.logFn("error actionId=%s error=%s", meta.ID, err)
	self.bus.Emit(EventError, ErrorPayload{Meta: meta, Err: err})
}

func (self *Server) contextFor(meta *Meta) *Context {
	parsed, err := ParseActionID(meta.ID)
	ctx := &Context{Subprotocol: meta.Subprotocol}
	if err == nil {
		ctx.NodeID = parsed.NodeID
		ctx.ClientID = parsed.ClientID
		ctx.UserID = parsed.UserID
		ctx.isServer = parsed.NodeID == self.NodeID
	}
	if client, ok := self.registry.ByClientID(ctx.ClientID); ok {
		ctx.SendBack = func(action Action, extraMeta map[string]any) {
			backMeta := NewMeta(self.log.GenerateID())
			backMeta.Clients = []string{client.ClientID}
			backMeta.Status = StatusProcessed
			for k, v := range extraMeta {
				backMeta.Extra[k] = v
			}
			backMeta.Normalize()
			self.log.Add(action, backMeta)
		}
	}
	return ctx
}

// dispatchAdd implements spec.md §4.1's "add" event.
func (self *Server) dispatchAdd(action Action, meta *Meta) {
	start := self.Options.Now()

	self.report(EventDispatching, map[string]any{"id": meta.ID, "type": action.Type})

	if self.IsDestroying() {
		return
	}

	switch action.Type {
	case TypeSubscribe:
		if meta.Server == self.NodeID {
			self.handleSubscribe(action, meta)
		}
		return
	case TypeUnsubscribe:
		if meta.Server == self.NodeID {
			self.handleUnsubscribe(action, meta)
		}
		return
	}

	processor := self.types.Lookup(action.Type)

	if processor != nil && processor.Resend != nil && meta.Status == StatusWaiting {
		ctx := self.contextFor(meta)
		addressing, err := self.safeResend(processor, ctx, action, meta)
		if err != nil {
			self.undo(meta, UndoReasonError, nil)
			self.emitError(meta, err)
			return
		}
		if addressing != nil {
			if updated, ok := self.log.ChangeMeta(meta.ID, func(m *Meta) {
				m.Nodes = append(m.Nodes, addressing.Nodes...)
				m.Clients = append(m.Clients, addressing.Clients...)
				m.Users = append(m.Users, addressing.Users...)
				m.Channels = append(m.Channels, addressing.Channels...)
			}); ok {
				meta = updated
			}
		}
	}

	if meta.Status == StatusProcessed && processor == nil && !meta.HasAddressing() {
		self.report(EventUseless, map[string]any{"actionId": meta.ID, "type": action.Type})
	}

	self.sendAction(action, meta)

	switch {
	case meta.Status != StatusWaiting:
		self.emitProcessed(meta, 0)
	case processor == nil:
		self.handleUnknownType(action, meta)
	case processor.Process != nil:
		go self.processAction(processor, action, meta, start)
	default:
		self.markAsProcessed(meta)
		self.emitProcessed(meta, 0)
	}
}

func (self *Server) safeResend(processor *Processor, ctx *Context, action Action, meta *Meta) (addressing *ResendAddressing, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resend panic: %v", r)
		}
	}()
	return processor.Resend(ctx, action, meta)
}

// processAction implements spec.md §4.5.
func (self *Server) processAction(processor *Processor, action Action, meta *Meta, start int64) {
	self.beginProcess()
	defer self.endProcess()

	ctx := self.contextFor(meta)

	err := self.safeProcess(processor, ctx, action, meta)
	latency := self.Options.Now() - start

	if err != nil {
		self.log.ChangeMeta(meta.ID, func(m *Meta) { m.Status = StatusError })
		self.undo(meta, UndoReasonError, nil)
		self.emitError(meta, err)
	} else {
		self.markAsProcessed(meta)
		self.emitProcessed(meta, latency)
	}

	if processor.Finally != nil {
		self.safeFinally(func() { processor.Finally(ctx, action, meta) }, meta)
	}
}

func (self *Server) safeProcess(processor *Processor, ctx *Context, action Action, meta *Meta) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("process panic: %v", r)
		}
	}()
	return processor.Process(ctx, action, meta)
}

func (self *Server) safeFinally(fn func(), meta *Meta) {
	defer func() {
		if r := recover(); r != nil {
			self.report(EventError, map[string]any{"actionId": meta.ID, "error": fmt.Sprintf("finally panic: %v", r)})
		}
	}()
	fn()
}

// markAsProcessed sets status processed and, for actions that did not
// originate on this server, appends a logux/processed action addressed
// back to the originating client (spec.md §4.1 "markAsProcessed").
func (self *Server) markAsProcessed(meta *Meta) {
	if updated, ok := self.log.ChangeMeta(meta.ID, func(m *Meta) { m.Status = StatusProcessed }); ok {
		meta = updated
	}

	parsed, err := ParseActionID(meta.ID)
	if err != nil || parsed.NodeID == self.NodeID {
		return
	}

	processedMeta := NewMeta(self.log.GenerateID())
	processedMeta.Clients = []string{parsed.ClientID}
	processedMeta.Status = StatusProcessed
	self.log.Add(processedAction(meta.ID), processedMeta)
}

// undo emits a logux/undo addressed back to the node that produced meta
// (spec.md invariant 4: the referenced id has already been added).
func (self *Server) undo(meta *Meta, reason string, extra map[string]any) {
	undoMeta := NewMeta(self.log.GenerateID())
	undoMeta.Status = StatusProcessed

	if parsed, err := ParseActionID(meta.ID); err == nil {
		undoMeta.Nodes = []string{parsed.NodeID}
	}

	self.log.Add(undoAction(meta.ID, reason, extra), undoMeta)
}

// handleUnknownType implements spec.md §4.1's "Unknown type (internal)".
func (self *Server) handleUnknownType(action Action, meta *Meta) {
	self.log.ChangeMeta(meta.ID, func(m *Meta) { m.Status = StatusError })
	self.report(EventUnknownType, map[string]any{"actionId": meta.ID, "type": action.Type})

	self.emitError(meta, fmt.Errorf("unknown type %s", action.Type))

	parsed, err := ParseActionID(meta.ID)
	if err != nil {
		return
	}
	if parsed.UserID != "server" {
		self.undo(meta, UndoReasonUnknownType, nil)
	}
	if self.IsDevelopment() {
		if client, ok := self.registry.ByClientID(parsed.ClientID); ok {
			client.SendDebug(fmt.Sprintf("Action with unknown type %s", action.Type))
		}
	}
}

// sendAction implements the fan-out rules of spec.md §4.3: union of
// node/client/user/channel targets, deduplicated, excluding the
// originating client, with each channel filter evaluated at most once.
func (self *Server) sendAction(action Action, meta *Meta) {
	parsed, _ := ParseActionID(meta.ID)
	originClientID := parsed.ClientID

	targets := map[string]*ServerClient{}
	add := func(c *ServerClient) {
		if c == nil || c.ClientID == originClientID {
			return
		}
		targets[c.Key] = c
	}

	for _, nodeID := range meta.Nodes {
		if c, ok := self.registry.ByNodeID(nodeID); ok {
			add(c)
		}
	}
	for _, clientID := range meta.Clients {
		if c, ok := self.registry.ByClientID(clientID); ok {
			add(c)
		}
	}
	for _, userID := range meta.Users {
		for _, c := range self.registry.ByUserID(userID) {
			add(c)
		}
	}

	if len(meta.Channels) > 0 {
		ctx := self.contextFor(meta)
		evaluated := map[string]bool{}
		passed := map[string]bool{}
		for _, channel := range meta.Channels {
			for nodeID, filter := range self.registry.SubscribersOf(channel) {
				if !evaluated[nodeID] {
					evaluated[nodeID] = true
					passed[nodeID] = filter(ctx, action, meta)
				}
				if !passed[nodeID] {
					continue
				}
				if c, ok := self.registry.ByNodeID(nodeID); ok {
					add(c)
				}
			}
		}
	}

	for _, c := range targets {
		c.Deliver(action, meta)
	}
}
