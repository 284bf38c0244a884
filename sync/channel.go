package sync

import (
	"regexp"
	"strings"
	"sync"
)

// ChannelCallbacks bind to a channel pattern (spec.md §4.4). Access is
// mandatory; Filter, Load, and Finally are optional.
type ChannelCallbacks struct {
	Access func(ctx *Context, action Action, meta *Meta) (bool, error)

	// Filter computes the per-subscriber filter. Nil means "true"
	// (AllowAllFilter).
	Filter func(ctx *Context, action Action, meta *Meta) (Filter, error)

	// Load returns actions to send back to the new subscriber once
	// admitted (e.g. the current channel snapshot).
	Load func(ctx *Context, action Action, meta *Meta) ([]Action, error)

	Finally func(ctx *Context, action Action, meta *Meta)
}

// channelMatcher is either a named-parameter path pattern ("user/:id")
// or a regular expression.
type channelMatcher interface {
	match(channel string) (params map[string]string, ok bool)
}

type pathMatcher struct {
	segments []pathSegment
}

type pathSegment struct {
	name    string
	isParam bool
}

// newPathMatcher parses a gin-style path pattern ("user/:id/settings")
// into segments. The channel engine implements its own matcher rather
// than reusing gin's internal radix tree (unexported outside gin's HTTP
// request path) but keeps the same ":name" param syntax gin uses for
// control-endpoint routes, so one convention covers both.
func newPathMatcher(pattern string) *pathMatcher {
	parts := strings.Split(strings.Trim(pattern, "/"), "/")
	segments := make([]pathSegment, 0, len(parts))
	for _, part := range parts {
		if strings.HasPrefix(part, ":") {
			segments = append(segments, pathSegment{name: part[1:], isParam: true})
		} else {
			segments = append(segments, pathSegment{name: part})
		}
	}
	return &pathMatcher{segments: segments}
}

func (self *pathMatcher) match(channel string) (map[string]string, bool) {
	parts := strings.Split(strings.Trim(channel, "/"), "/")
	if len(parts) != len(self.segments) {
		return nil, false
	}
	params := map[string]string{}
	for i, seg := range self.segments {
		if seg.isParam {
			params[seg.name] = parts[i]
			continue
		}
		if seg.name != parts[i] {
			return nil, false
		}
	}
	return params, true
}

type regexMatcher struct {
	re *regexp.Regexp
}

func (self *regexMatcher) match(channel string) (map[string]string, bool) {
	m := self.re.FindStringSubmatch(channel)
	if m == nil {
		return nil, false
	}
	params := map[string]string{}
	for i, name := range self.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		params[name] = m[i]
	}
	return params, true
}

type channelEntry struct {
	matcher   channelMatcher
	callbacks *ChannelCallbacks
}

// ChannelTable holds every registered channel pattern in registration
// order plus the terminal catch-all (spec.md §4.4).
type ChannelTable struct {
	mu      sync.RWMutex
	entries []channelEntry
	other   *ChannelCallbacks
}

func NewChannelTable() *ChannelTable {
	return &ChannelTable{}
}

func (self *ChannelTable) Channel(pattern string, callbacks *ChannelCallbacks) {
	if callbacks.Access == nil {
		panic("channel " + pattern + " must define Access")
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	self.entries = append(self.entries, channelEntry{matcher: newPathMatcher(pattern), callbacks: callbacks})
}

func (self *ChannelTable) ChannelRegex(re *regexp.Regexp, callbacks *ChannelCallbacks) {
	if callbacks.Access == nil {
		panic("regex channel must define Access")
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	self.entries = append(self.entries, channelEntry{matcher: &regexMatcher{re: re}, callbacks: callbacks})
}

func (self *ChannelTable) OtherChannel(callbacks *ChannelCallbacks) {
	if callbacks.Access == nil {
		panic("other channel must define Access")
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	self.other = callbacks
}

// Match scans matchers in registration order; first match wins
// (spec.md §4.4 step 2).
func (self *ChannelTable) Match(channel string) (*ChannelCallbacks, map[string]string, bool) {
	self.mu.RLock()
	defer self.mu.RUnlock()

	for _, entry := range self.entries {
		if params, ok := entry.matcher.match(channel); ok {
			return entry.callbacks, params, true
		}
	}
	if self.other != nil {
		return self.other, map[string]string{}, true
	}
	return nil, nil, false
}
