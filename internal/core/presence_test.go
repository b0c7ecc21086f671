package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []PresenceEvent
}

func (o *recordingObserver) PresenceChanged(ev PresenceEvent) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func drain(c *Client) []*Event {
	var out []*Event
	for {
		select {
		case ev := <-c.Events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestParseFanoutMode(t *testing.T) {
	for in, want := range map[string]FanoutMode{"": FanoutWatchers, "watchers": FanoutWatchers, " Broadcast ": FanoutBroadcast} {
		got, err := ParseFanoutMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFanoutMode("everyone")
	assert.Error(t, err)
}

func TestPresenceWatchersFanout(t *testing.T) {
	r := NewRegistry(nil)
	p := NewPresence(r, FanoutWatchers, nil, nil)
	obs := &recordingObserver{}
	p.AddObserver(obs)

	alice, bob, carol := NewClient("a"), NewClient("b"), NewClient("c")
	r.Bind("alice", alice)
	alice.setRegistered("alice")
	r.Bind("bob", bob)
	bob.setRegistered("bob")
	r.Bind("carol", carol)
	carol.setRegistered("carol")

	p.Watch(bob, "alice")
	p.Watch(alice, "alice")

	seen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.AnnounceOffline("alice", seen)

	got := drain(bob)
	require.Len(t, got, 1)
	assert.Equal(t, EventPresenceChanged, got[0].Kind)
	assert.False(t, got[0].Presence.Online)
	assert.Equal(t, seen, *got[0].Presence.LastSeen)

	assert.Empty(t, drain(alice), "subject must not receive its own presence")
	assert.Empty(t, drain(carol))
	require.Len(t, obs.events, 1)
	assert.Equal(t, "alice", obs.events[0].Identity)

	p.Forget(bob)
	p.AnnounceOnline("alice")
	assert.Empty(t, drain(bob))
}

func TestPresenceBroadcastFanout(t *testing.T) {
	r := NewRegistry(nil)
	p := NewPresence(r, FanoutBroadcast, nil, nil)

	alice, bob := NewClient("a"), NewClient("b")
	r.Bind("alice", alice)
	alice.setRegistered("alice")
	r.Bind("bob", bob)
	bob.setRegistered("bob")

	p.AnnounceOnline("alice")

	got := drain(bob)
	require.Len(t, got, 1)
	assert.True(t, got[0].Presence.Online)
	assert.Nil(t, got[0].Presence.LastSeen)
	assert.Empty(t, drain(alice))
}

func TestPresenceQueryStatus(t *testing.T) {
	now := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(func() time.Time { return now })
	p := NewPresence(r, "", nil, nil)
	assert.Equal(t, FanoutWatchers, p.Mode())

	c := NewClient("a")
	r.Bind("alice", c)
	assert.True(t, p.QueryStatus("alice").Online)

	r.Unbind(c)
	status := p.QueryStatus("alice")
	assert.False(t, status.Online)
	require.NotNil(t, status.LastSeen)
	assert.Equal(t, now, *status.LastSeen)

	assert.Nil(t, p.QueryStatus("nobody").LastSeen)
}
