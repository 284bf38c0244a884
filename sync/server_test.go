package sync

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	server, err := NewServer(Options{
		Subprotocol: "1.0.0",
		Supports:    "^1.0.0",
		Env:         EnvDevelopment,
		ID:          "xxx",
	})
	assert.Equal(t, nil, err)
	return server
}

func waitForProcessed(t *testing.T, server *Server, actionID string) *Meta {
	t.Helper()
	done := make(chan *Meta, 1)
	cancel := server.Bus().On(EventProcessed, func(payload any) {
		if p, ok := payload.(ProcessedPayload); ok && p.Meta.ID == actionID {
			select {
			case done <- p.Meta:
			default:
			}
		}
	})
	defer cancel()

	select {
	case meta := <-done:
		return meta
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for processed event on %s", actionID)
		return nil
	}
}

// TestScenarioHappyPath is S1 from spec.md §8.
func TestScenarioHappyPath(t *testing.T) {
	server := newTestServer(t)
	server.Type("A", &Processor{
		Access: func(ctx *Context, action Action, meta *Meta) (bool, error) { return true, nil },
	})

	client, peer := newAuthenticatedClient(server, "10:uuid")

	meta := NewMeta("1 10:uuid 0")
	meta.Status = StatusWaiting
	server.log.Add(NewAction("A", nil), meta)

	waitForProcessed(t, server, "1 10:uuid 0")

	deadline := time.Now().Add(time.Second)
	var frames []sentFrame
	for time.Now().Before(deadline) {
		frames = peer.framesSent()
		if len(frames) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, 1, len(frames))
	assert.Equal(t, TypeProcessed, frames[0].action.Type)
	id, _ := frames[0].action.String("id")
	assert.Equal(t, "1 10:uuid 0", id)
	_ = client
}

// TestScenarioDeniedAction is S2: an access-denied action from the
// inbound client filter yields a logux/undo with reason "denied" while
// a sibling authorized action still gets processed.
func TestScenarioDeniedAction(t *testing.T) {
	server := newTestServer(t)
	server.Type("A", &Processor{
		Access: func(ctx *Context, action Action, meta *Meta) (bool, error) {
			bar, _ := action.Get("bar")
			allowed, _ := bar.(bool)
			return allowed, nil
		},
	})

	client, _ := newAuthenticatedClient(server, "10:uuid")

	client.onReceive(NewAction("A", map[string]any{"bar": true}), &Meta{
		ID:      "1 10:uuid 0",
		Reasons: map[string]struct{}{},
		Extra:   map[string]any{},
	})
	client.onReceive(NewAction("A", map[string]any{"bar": false}), &Meta{
		ID:      "2 10:uuid 0",
		Reasons: map[string]struct{}{},
		Extra:   map[string]any{},
	})

	waitForProcessed(t, server, "1 10:uuid 0")

	deadline := time.Now().Add(time.Second)
	var found *Meta
	for time.Now().Before(deadline) {
		server.log.Each(func(a Action, m *Meta) bool {
			if a.Type == TypeUndo {
				if id, _ := a.String("id"); id == "2 10:uuid 0" {
					found = m
					return false
				}
			}
			return true
		})
		if found != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.NotEqual(t, nil, found)
}

// TestScenarioUnknownType is S3.
func TestScenarioUnknownType(t *testing.T) {
	server := newTestServer(t)
	client, peer := newAuthenticatedClient(server, "10:uuid")

	client.onReceive(NewAction("UNKNOWN", nil), &Meta{
		ID:      "1 10:uuid 0",
		Reasons: map[string]struct{}{},
		Extra:   map[string]any{},
	})

	deadline := time.Now().Add(time.Second)
	var undoMeta *Meta
	for time.Now().Before(deadline) {
		server.log.Each(func(a Action, m *Meta) bool {
			if a.Type == TypeUndo {
				if id, _ := a.String("id"); id == "1 10:uuid 0" {
					undoMeta = m
					return false
				}
			}
			return true
		})
		if undoMeta != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.NotEqual(t, nil, undoMeta)

	deadline = time.Now().Add(time.Second)
	var debugFrame *sentFrame
	for time.Now().Before(deadline) {
		for _, f := range peer.framesSent() {
			if f.debug != "" {
				fr := f
				debugFrame = &fr
				break
			}
		}
		if debugFrame != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.NotEqual(t, nil, debugFrame)
}

// TestScenarioSubscribeAndFanOut is S4.
func TestScenarioSubscribeAndFanOut(t *testing.T) {
	server := newTestServer(t)
	server.Channel("user/:id", &ChannelCallbacks{
		Access: func(ctx *Context, action Action, meta *Meta) (bool, error) {
			return ctx.Params["id"] == ctx.UserID, nil
		},
	})

	subscriber, subPeer := newAuthenticatedClient(server, "10:uuid")

	subMeta := NewMeta("1 10:uuid 0")
	subMeta.Server = server.NodeID
	subMeta.Status = StatusWaiting
	server.log.Add(subscribeAction("user/10"), subMeta)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !server.registry.IsSubscribed("user/10", subscriber.NodeID) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, true, server.registry.IsSubscribed("user/10", subscriber.NodeID))

	fanMeta := NewMeta(server.log.GenerateID())
	fanMeta.Channels = []string{"user/10"}
	fanMeta.Status = StatusProcessed
	server.log.Add(NewAction("X", nil), fanMeta)

	deadline = time.Now().Add(time.Second)
	var gotX bool
	for time.Now().Before(deadline) {
		for _, f := range subPeer.framesSent() {
			if f.action.Type == "X" {
				gotX = true
			}
		}
		if gotX {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, true, gotX)

	server.log.Add(unsubscribeAction("user/10"), &Meta{
		ID:      "2 10:uuid 0",
		Server:  server.NodeID,
		Status:  StatusWaiting,
		Reasons: map[string]struct{}{},
		Extra:   map[string]any{},
	})

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && server.registry.IsSubscribed("user/10", subscriber.NodeID) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, false, server.registry.IsSubscribed("user/10", subscriber.NodeID))
}

// TestScenarioZombieEviction is S5.
func TestScenarioZombieEviction(t *testing.T) {
	server := newTestServer(t)

	first, firstPeer := newAuthenticatedClient(server, "10:a")
	assert.Equal(t, false, first.isZombie())

	zombie := server.registry.Authenticate(&ServerClient{NodeID: "10:a", ClientID: "10:a", UserID: "10", Key: server.registry.NextKey()})
	assert.Equal(t, true, zombie == first)

	zombie.markZombie()
	assert.Equal(t, true, zombie.isZombie())
	zombie.Destroy()

	current, ok := server.registry.ByNodeID("10:a")
	assert.Equal(t, true, ok)
	assert.Equal(t, false, current == first)
	_ = firstPeer
}

// TestScenarioResendShortcut is S6.
func TestScenarioResendShortcut(t *testing.T) {
	server := newTestServer(t)
	server.Type("Room", &Processor{
		Access: func(ctx *Context, action Action, meta *Meta) (bool, error) { return true, nil },
		Resend: func(ctx *Context, action Action, meta *Meta) (*ResendAddressing, error) {
			return &ResendAddressing{Channels: []string{"room/1"}}, nil
		},
	})

	origin, _ := newAuthenticatedClient(server, "10:uuid")
	other, otherPeer := newAuthenticatedClient(server, "11:uuid")
	server.registry.Subscribe("room/1", other.NodeID, AllowAllFilter)
	server.registry.Subscribe("room/1", origin.NodeID, AllowAllFilter)

	meta := NewMeta("1 10:uuid 0")
	meta.Status = StatusWaiting
	server.log.Add(NewAction("Room", nil), meta)

	waitForProcessed(t, server, "1 10:uuid 0")

	deadline := time.Now().Add(time.Second)
	var gotRoom bool
	for time.Now().Before(deadline) {
		for _, f := range otherPeer.framesSent() {
			if f.action.Type == "Room" {
				gotRoom = true
			}
		}
		if gotRoom {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, true, gotRoom)

	server.log.Each(func(a Action, m *Meta) bool {
		return true
	})
}

func TestServerAddGeneratesID(t *testing.T) {
	server := newTestServer(t)
	meta := NewMeta("")
	stored, ok := server.Add(NewAction("logux/noop", nil), meta)
	assert.Equal(t, true, ok)
	assert.NotEqual(t, "", stored.ID)
}

func TestServerDestroyWaitsForInFlight(t *testing.T) {
	server := newTestServer(t)
	release := make(chan struct{})
	server.Type("Slow", &Processor{
		Access: func(ctx *Context, action Action, meta *Meta) (bool, error) { return true, nil },
		Process: func(ctx *Context, action Action, meta *Meta) error {
			<-release
			return nil
		},
	})

	meta := NewMeta(server.log.GenerateID())
	meta.Status = StatusWaiting
	server.log.Add(NewAction("Slow", nil), meta)

	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		server.Destroy()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Destroy returned before in-flight process settled")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Destroy did not resolve after in-flight process settled")
	}
}
