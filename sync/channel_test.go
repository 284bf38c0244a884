package sync

import (
	"regexp"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestChannelTableExactPathMatch(t *testing.T) {
	table := NewChannelTable()
	table.Channel("user/:id", &ChannelCallbacks{
		Access: func(ctx *Context, action Action, meta *Meta) (bool, error) { return true, nil },
	})

	callbacks, params, ok := table.Match("user/10")
	assert.Equal(t, true, ok)
	assert.NotEqual(t, nil, callbacks)
	assert.Equal(t, "10", params["id"])

	_, _, ok = table.Match("user/10/settings")
	assert.Equal(t, false, ok)
}

func TestChannelTableRegistrationOrderWins(t *testing.T) {
	table := NewChannelTable()
	first := &ChannelCallbacks{Access: func(ctx *Context, action Action, meta *Meta) (bool, error) { return true, nil }}
	second := &ChannelCallbacks{Access: func(ctx *Context, action Action, meta *Meta) (bool, error) { return true, nil }}

	table.Channel("room/:id", first)
	table.ChannelRegex(regexp.MustCompile(`^room/\d+$`), second)

	callbacks, _, ok := table.Match("room/1")
	assert.Equal(t, true, ok)
	assert.Equal(t, true, callbacks == first)
}

func TestChannelTableFallsBackToOther(t *testing.T) {
	table := NewChannelTable()
	other := &ChannelCallbacks{Access: func(ctx *Context, action Action, meta *Meta) (bool, error) { return true, nil }}
	table.OtherChannel(other)

	callbacks, params, ok := table.Match("anything/at/all")
	assert.Equal(t, true, ok)
	assert.Equal(t, true, callbacks == other)
	assert.Equal(t, 0, len(params))
}

func TestChannelTableNoMatchNoOther(t *testing.T) {
	table := NewChannelTable()
	_, _, ok := table.Match("nope")
	assert.Equal(t, false, ok)
}

func TestChannelRegexNamedParams(t *testing.T) {
	table := NewChannelTable()
	table.ChannelRegex(regexp.MustCompile(`^room/(?P<roomId>\w+)$`), &ChannelCallbacks{
		Access: func(ctx *Context, action Action, meta *Meta) (bool, error) { return true, nil },
	})

	_, params, ok := table.Match("room/abc")
	assert.Equal(t, true, ok)
	assert.Equal(t, "abc", params["roomId"])
}
