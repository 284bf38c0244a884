package sync

// ActionToWire flattens an Action into a plain map for JSON encoding,
// merging Fields alongside the "type" discriminator the wire format
// expects at the top level.
func ActionToWire(action Action) map[string]any {
	out := make(map[string]any, len(action.Fields)+1)
	out["type"] = action.Type
	for k, v := range action.Fields {
		out[k] = v
	}
	return out
}

// ActionFromWire is the inverse of ActionToWire.
func ActionFromWire(raw map[string]any) Action {
	actionType, _ := raw["type"].(string)
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != "type" {
			fields[k] = v
		}
	}
	return Action{Type: actionType, Fields: fields}
}

// MetaToWire flattens a Meta into a plain map, normalizing the address
// sets to their plural array wire form.
func MetaToWire(meta *Meta) map[string]any {
	out := map[string]any{
		"id": meta.ID,
	}
	if meta.Time != 0 {
		out["time"] = meta.Time
	}
	if meta.Server != "" {
		out["server"] = meta.Server
	}
	if meta.Subprotocol != "" {
		out["subprotocol"] = meta.Subprotocol
	}
	if meta.Status != "" {
		out["status"] = meta.Status
	}
	if len(meta.Nodes) > 0 {
		out["nodes"] = meta.Nodes
	}
	if len(meta.Clients) > 0 {
		out["clients"] = meta.Clients
	}
	if len(meta.Users) > 0 {
		out["users"] = meta.Users
	}
	if len(meta.Channels) > 0 {
		out["channels"] = meta.Channels
	}
	for k, v := range meta.Extra {
		out[k] = v
	}
	return out
}

// MetaFromWire is the inverse of MetaToWire, leaving unrecognized keys
// in Extra for Meta.Normalize (and the client's inbound-field whitelist)
// to reject or fold in.
func MetaFromWire(raw map[string]any) *Meta {
	meta := NewMeta("")
	if id, ok := raw["id"].(string); ok {
		meta.ID = id
	}
	for k, v := range raw {
		switch k {
		case "id":
			continue
		case "time":
			meta.Time = toInt64(v)
		case "server":
			if s, ok := v.(string); ok {
				meta.Server = s
			}
		case "subprotocol":
			if s, ok := v.(string); ok {
				meta.Subprotocol = s
			}
		case "status":
			if s, ok := v.(string); ok {
				meta.Status = s
			}
		case "nodes":
			meta.Nodes = toStringSlice(v)
		case "clients":
			meta.Clients = toStringSlice(v)
		case "users":
			meta.Users = toStringSlice(v)
		case "channels":
			meta.Channels = toStringSlice(v)
		default:
			meta.Extra[k] = v
		}
	}
	return meta
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
