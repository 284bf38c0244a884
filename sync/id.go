package sync

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// ActionID is the parsed form of the canonical "<counter> <nodeId> <seq>"
// text id carried in meta.id.
//
// Match rule (frozen per spec.md's open question on the two vs three
// segment nodeId): nodeId is split on ':'. With two or more segments,
// UserID is always segments[0] and ClientID is always the first two
// segments joined by ':' -- this holds uniformly for a 3-segment client
// id ("user:clientRand:nodeRand", ClientID drops the trailing nodeRand)
// and for a 2-segment server id ("server:rand", where UserID comes out
// as the literal string "server"). With exactly one segment (no colon,
// a bare local nodeId) UserID and ClientID are both empty.
type ActionID struct {
	Counter  int64
	NodeID   string
	Seq      int64
	UserID   string
	ClientID string
}

// ParseActionID splits a wire action id of the form "<counter> <nodeId> <seq>".
func ParseActionID(id string) (ActionID, error) {
	parts := strings.SplitN(id, " ", 3)
	if len(parts) != 3 {
		return ActionID{}, fmt.Errorf("malformed action id %q", id)
	}

	counter, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ActionID{}, fmt.Errorf("malformed action id counter %q: %w", parts[0], err)
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return ActionID{}, fmt.Errorf("malformed action id seq %q: %w", parts[2], err)
	}

	nodeID := parts[1]
	userID, clientID := parseNodeID(nodeID)

	return ActionID{
		Counter:  counter,
		NodeID:   nodeID,
		Seq:      seq,
		UserID:   userID,
		ClientID: clientID,
	}, nil
}

func parseNodeID(nodeID string) (userID string, clientID string) {
	segments := strings.Split(nodeID, ":")
	if len(segments) < 2 {
		return "", ""
	}
	return segments[0], segments[0] + ":" + segments[1]
}

// String renders the canonical wire form.
func (self ActionID) String() string {
	return fmt.Sprintf("%d %s %d", self.Counter, self.NodeID, self.Seq)
}

// NewNodeRand mints the random suffix used when a caller does not pin
// Options.ID; the teacher's Id type wraps a ulid.ULID the same way for
// its own opaque connection ids.
func NewNodeRand() string {
	return strings.ToLower(ulid.Make().String())
}

// ClientNodeID builds a client-side nodeId "user:clientRand[:nodeRand]".
func ClientNodeID(userID string, clientRand string, nodeRand string) string {
	if nodeRand == "" {
		return userID + ":" + clientRand
	}
	return userID + ":" + clientRand + ":" + nodeRand
}

// ServerNodeID builds a server-side nodeId "server:rand".
func ServerNodeID(rand string) string {
	return "server:" + rand
}
