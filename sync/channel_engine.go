package sync

import "fmt"

func (self *Server) wrongChannel(action Action, meta *Meta) {
	self.report(EventWrongChannel, map[string]any{"actionId": meta.ID})
	self.undo(meta, UndoReasonWrongChannel, nil)
	if self.IsDevelopment() {
		self.sendDebugToOrigin(meta, "Wrong channel in "+action.Type)
	}
}

func (self *Server) denyAction(action Action, meta *Meta) {
	self.report(EventDenied, map[string]any{"actionId": meta.ID})
	self.undo(meta, UndoReasonDenied, nil)
	if self.IsDevelopment() {
		self.sendDebugToOrigin(meta, "Access denied to "+action.Type)
	}
}

func (self *Server) sendDebugToOrigin(meta *Meta, message string) {
	parsed, err := ParseActionID(meta.ID)
	if err != nil {
		return
	}
	if client, ok := self.registry.ByClientID(parsed.ClientID); ok {
		client.SendDebug(message)
	}
}

// handleSubscribe implements spec.md §4.4's "On logux/subscribe" flow.
func (self *Server) handleSubscribe(action Action, meta *Meta) {
	start := self.Options.Now()

	channel, ok := action.String("channel")
	if !ok {
		self.wrongChannel(action, meta)
		return
	}

	callbacks, params, ok := self.channels.Match(channel)
	if !ok {
		self.wrongChannel(action, meta)
		return
	}

	parsed, err := ParseActionID(meta.ID)
	if err != nil {
		self.wrongChannel(action, meta)
		return
	}

	ctx := self.contextFor(meta)
	ctx.Params = params

	subscribed := false
	finish := func() {
		if callbacks.Finally != nil {
			self.safeFinally(func() { callbacks.Finally(ctx, action, meta) }, meta)
		}
	}

	fail := func(err error) {
		self.emitError(meta, err)
		self.undo(meta, UndoReasonError, nil)
		if subscribed {
			self.registry.Unsubscribe(channel, parsed.NodeID)
			self.report(EventUnsubscribed, map[string]any{"actionId": meta.ID, "channel": channel})
			self.markAsProcessed(meta)
		}
		finish()
	}

	allowed, err := self.safeAccess(callbacks.Access, ctx, action, meta)
	if err != nil {
		fail(err)
		return
	}
	if !allowed {
		self.denyAction(action, meta)
		finish()
		return
	}

	if _, ok := self.registry.ByNodeID(parsed.NodeID); !ok {
		self.report(EventSubscriptionCancelled, map[string]any{"actionId": meta.ID, "channel": channel})
		finish()
		return
	}

	filter := Filter(AllowAllFilter)
	if callbacks.Filter != nil {
		f, err := self.safeFilter(callbacks.Filter, ctx, action, meta)
		if err != nil {
			fail(err)
			return
		}
		if f != nil {
			filter = f
		}
	}

	isNew := self.registry.Subscribe(channel, parsed.NodeID, filter)
	subscribed = true
	if isNew {
		self.report(EventSubscribing, map[string]any{"channel": channel})
	}

	if callbacks.Load != nil {
		loaded, err := self.safeLoad(callbacks.Load, ctx, action, meta)
		if err != nil {
			fail(err)
			return
		}
		for _, a := range loaded {
			if ctx.SendBack != nil {
				ctx.SendBack(a, nil)
			}
		}
	}

	latency := self.Options.Now() - start
	self.report(EventSubscribed, map[string]any{"actionId": meta.ID, "channel": channel, "latencyMs": latency})
	self.markAsProcessed(meta)
	self.emitProcessed(meta, latency)
	finish()
}

// handleUnsubscribe implements spec.md §4.4's "On logux/unsubscribe".
func (self *Server) handleUnsubscribe(action Action, meta *Meta) {
	channel, ok := action.String("channel")
	if !ok {
		self.wrongChannel(action, meta)
		return
	}

	parsed, err := ParseActionID(meta.ID)
	if err == nil {
		self.registry.Unsubscribe(channel, parsed.NodeID)
	}

	self.report(EventUnsubscribed, map[string]any{"actionId": meta.ID, "channel": channel})
	self.markAsProcessed(meta)
	self.emitProcessed(meta, 0)
}

func (self *Server) safeAccess(fn func(*Context, Action, *Meta) (bool, error), ctx *Context, action Action, meta *Meta) (allowed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("access panic: %v", r)
		}
	}()
	return fn(ctx, action, meta)
}

func (self *Server) safeFilter(fn func(*Context, Action, *Meta) (Filter, error), ctx *Context, action Action, meta *Meta) (filter Filter, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filter panic: %v", r)
		}
	}()
	return fn(ctx, action, meta)
}

func (self *Server) safeLoad(fn func(*Context, Action, *Meta) ([]Action, error), ctx *Context, action Action, meta *Meta) (loaded []Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load panic: %v", r)
		}
	}()
	return fn(ctx, action, meta)
}
