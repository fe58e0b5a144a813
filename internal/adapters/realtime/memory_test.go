package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devhazem/meetmesh/internal/core"
	"github.com/devhazem/meetmesh/internal/domain"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type presenceLog struct {
	mu     sync.Mutex
	events []core.PresenceEvent
}

func (l *presenceLog) add(evt core.PresenceEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *presenceLog) snapshot() []core.PresenceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.PresenceEvent(nil), l.events...)
}

func TestMemoryHubSyncSnapshotOnSubscribe(t *testing.T) {
	hub := NewMemoryHub()

	first := hub.Channel("room:a", "k1", false)
	require.NoError(t, first.Subscribe(context.Background()))
	require.NoError(t, first.Track(map[string]string{"name": "alice"}))
	t.Cleanup(first.Close)

	var log presenceLog
	second := hub.Channel("room:a", "k2", false)
	second.OnPresence(log.add)
	require.NoError(t, second.Subscribe(context.Background()))
	t.Cleanup(second.Close)

	require.Eventually(t, func() bool {
		evts := log.snapshot()
		return len(evts) >= 1 && evts[0].Type == core.PresenceSync
	}, waitFor, tick)

	sync := log.snapshot()[0]
	require.Contains(t, sync.State, domain.PresenceKey("k1"))
	assert.JSONEq(t, `{"name":"alice"}`, string(sync.State["k1"]))
}

func TestMemoryHubTrackFansOutToEveryone(t *testing.T) {
	hub := NewMemoryHub()

	var logA, logB presenceLog
	a := hub.Channel("room:a", "ka", false)
	a.OnPresence(logA.add)
	b := hub.Channel("room:a", "kb", false)
	b.OnPresence(logB.add)
	require.NoError(t, a.Subscribe(context.Background()))
	require.NoError(t, b.Subscribe(context.Background()))
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	require.NoError(t, a.Track(map[string]int{"v": 1}))

	// The tracker sees its own join, like any other member.
	for _, log := range []*presenceLog{&logA, &logB} {
		require.Eventually(t, func() bool {
			for _, evt := range log.snapshot() {
				if evt.Type == core.PresenceJoin && evt.Key == "ka" {
					return true
				}
			}
			return false
		}, waitFor, tick)
	}

	require.NoError(t, a.Untrack())
	require.Eventually(t, func() bool {
		for _, evt := range logB.snapshot() {
			if evt.Type == core.PresenceLeave && evt.Key == "ka" {
				return true
			}
		}
		return false
	}, waitFor, tick)

	assert.Empty(t, b.PresenceState())
}

func TestMemoryHubBroadcastSelfFlag(t *testing.T) {
	hub := NewMemoryHub()

	var echoed, silent []json.RawMessage
	var mu sync.Mutex

	withSelf := hub.Channel("room:a", "k1", true)
	withSelf.OnBroadcast("PING", func(raw json.RawMessage) {
		mu.Lock()
		echoed = append(echoed, raw)
		mu.Unlock()
	})
	withoutSelf := hub.Channel("room:a", "k2", false)
	withoutSelf.OnBroadcast("PING", func(raw json.RawMessage) {
		mu.Lock()
		silent = append(silent, raw)
		mu.Unlock()
	})
	require.NoError(t, withSelf.Subscribe(context.Background()))
	require.NoError(t, withoutSelf.Subscribe(context.Background()))
	t.Cleanup(withSelf.Close)
	t.Cleanup(withoutSelf.Close)

	require.NoError(t, withSelf.Broadcast("PING", "one"))
	require.NoError(t, withoutSelf.Broadcast("PING", "two"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(echoed) == 2 && len(silent) == 1
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `"one"`, string(silent[0]))
}

func TestMemoryHubCloseImpliesLeave(t *testing.T) {
	hub := NewMemoryHub()

	var log presenceLog
	watcher := hub.Channel("room:a", "kw", false)
	watcher.OnPresence(log.add)
	require.NoError(t, watcher.Subscribe(context.Background()))
	t.Cleanup(watcher.Close)

	leaver := hub.Channel("room:a", "kl", false)
	require.NoError(t, leaver.Subscribe(context.Background()))
	require.NoError(t, leaver.Track(map[string]int{"v": 1}))

	leaver.Close()

	require.Eventually(t, func() bool {
		for _, evt := range log.snapshot() {
			if evt.Type == core.PresenceLeave && evt.Key == "kl" {
				return true
			}
		}
		return false
	}, waitFor, tick)
	assert.Empty(t, watcher.PresenceState())
}

func TestMemoryHubRequiresSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ch := hub.Channel("room:a", "k1", false)

	require.ErrorIs(t, ch.Track("x"), ErrNotSubscribed)
	require.ErrorIs(t, ch.Broadcast("PING", "x"), ErrNotSubscribed)
}

func TestMemoryHubTopicsAreIsolated(t *testing.T) {
	hub := NewMemoryHub()

	var log presenceLog
	other := hub.Channel("room:b", "kb", false)
	other.OnPresence(log.add)
	require.NoError(t, other.Subscribe(context.Background()))
	t.Cleanup(other.Close)

	a := hub.Channel("room:a", "ka", false)
	require.NoError(t, a.Subscribe(context.Background()))
	require.NoError(t, a.Track(map[string]int{"v": 1}))
	t.Cleanup(a.Close)

	time.Sleep(50 * time.Millisecond)
	for _, evt := range log.snapshot() {
		assert.NotEqual(t, core.PresenceJoin, evt.Type)
	}
	assert.Empty(t, other.PresenceState())
}
