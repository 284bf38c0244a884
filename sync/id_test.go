package sync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestParseActionIDThreeSegments(t *testing.T) {
	id, err := ParseActionID("1 10:uuid:node 0")
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(1), id.Counter)
	assert.Equal(t, "10:uuid:node", id.NodeID)
	assert.Equal(t, "10", id.UserID)
	assert.Equal(t, "10:uuid", id.ClientID)
}

func TestParseActionIDTwoSegments(t *testing.T) {
	id, err := ParseActionID("4 server:rand 0")
	assert.Equal(t, nil, err)
	assert.Equal(t, "server", id.UserID)
	assert.Equal(t, "server:rand", id.ClientID)
}

func TestParseActionIDOneSegment(t *testing.T) {
	id, err := ParseActionID("4 solo 0")
	assert.Equal(t, nil, err)
	assert.Equal(t, "", id.UserID)
	assert.Equal(t, "", id.ClientID)
}

func TestParseActionIDMalformed(t *testing.T) {
	_, err := ParseActionID("not an id")
	assert.NotEqual(t, nil, err)
}

func TestActionIDStringRoundTrip(t *testing.T) {
	id, err := ParseActionID("7 10:uuid:node 3")
	assert.Equal(t, nil, err)
	assert.Equal(t, "7 10:uuid:node 3", id.String())
}

func TestClientNodeIDAndServerNodeID(t *testing.T) {
	assert.Equal(t, "10:uuid:node", ClientNodeID("10", "uuid", "node"))
	assert.Equal(t, "10:uuid", ClientNodeID("10", "uuid", ""))
	assert.Equal(t, "server:rand", ServerNodeID("rand"))
}
