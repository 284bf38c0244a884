package sync

// Context is the per-action view handed to processors and channel
// callbacks (spec.md §3, "Context").
type Context struct {
	NodeID      string
	ClientID    string
	UserID      string
	Subprotocol string

	// Params holds named path parameters from a channel pattern match
	// (e.g. "user/:id" against "user/10" yields Params["id"] == "10").
	Params map[string]string

	// SendBack, when non-nil, delivers an action back to the client that
	// produced the action this Context describes (used by channel load).
	// It is nil when no connected client holds the originating clientId,
	// which is always the case for server-originated actions.
	SendBack func(action Action, extraMeta map[string]any)

	// isServer is true when the action originated on this server
	// (meta.id's nodeId equals the server's own nodeId).
	isServer bool
}

func (self *Context) IsServer() bool {
	return self.isServer
}
