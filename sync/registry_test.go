package sync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestRegistryNextKeyIncrements(t *testing.T) {
	registry := NewRegistry()
	assert.Equal(t, "1", registry.NextKey())
	assert.Equal(t, "2", registry.NextKey())
}

func TestRegistryAuthenticateReturnsZombie(t *testing.T) {
	registry := NewRegistry()

	first := &ServerClient{NodeID: "10:a", ClientID: "10:a", UserID: "10", Key: registry.NextKey()}
	zombie := registry.Authenticate(first)
	assert.Equal(t, (*ServerClient)(nil), zombie)

	second := &ServerClient{NodeID: "10:a", ClientID: "10:a", UserID: "10", Key: registry.NextKey()}
	zombie = registry.Authenticate(second)
	assert.Equal(t, first, zombie)

	current, ok := registry.ByNodeID("10:a")
	assert.Equal(t, true, ok)
	assert.Equal(t, second, current)
}

func TestRegistryRemoveClientPrunesSubscriptions(t *testing.T) {
	registry := NewRegistry()
	client := &ServerClient{NodeID: "10:a", ClientID: "10:a", UserID: "10", Key: registry.NextKey()}
	registry.Authenticate(client)

	isNew := registry.Subscribe("user/10", client.NodeID, AllowAllFilter)
	assert.Equal(t, true, isNew)
	assert.Equal(t, true, registry.IsSubscribed("user/10", client.NodeID))

	registry.RemoveClient(client)

	assert.Equal(t, false, registry.IsSubscribed("user/10", client.NodeID))
	_, ok := registry.ByNodeID("10:a")
	assert.Equal(t, false, ok)
}

func TestRegistrySubscribeUnsubscribeChannelLifecycle(t *testing.T) {
	registry := NewRegistry()

	isNew := registry.Subscribe("room/1", "10:a", AllowAllFilter)
	assert.Equal(t, true, isNew)

	isNew = registry.Subscribe("room/1", "10:b", AllowAllFilter)
	assert.Equal(t, false, isNew)

	registry.Unsubscribe("room/1", "10:a")
	assert.Equal(t, true, registry.IsSubscribed("room/1", "10:b"))

	registry.Unsubscribe("room/1", "10:b")
	subs := registry.SubscribersOf("room/1")
	assert.Equal(t, 0, len(subs))
}

func TestRegistryBruteforceThreshold(t *testing.T) {
	registry := NewRegistry()
	ip := "203.0.113.5"

	assert.Equal(t, false, registry.IsBruteforce(ip))
	registry.RecordAuthFailure(ip)
	registry.RecordAuthFailure(ip)
	assert.Equal(t, false, registry.IsBruteforce(ip))
	registry.RecordAuthFailure(ip)
	assert.Equal(t, true, registry.IsBruteforce(ip))
}
