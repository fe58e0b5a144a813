package hub_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	router "github.com/devhazem/meetmesh/internal/adapters/http"
	"github.com/devhazem/meetmesh/internal/adapters/hub"
	"github.com/devhazem/meetmesh/internal/adapters/realtime"
	"github.com/devhazem/meetmesh/internal/config"
	"github.com/devhazem/meetmesh/internal/core"
	"github.com/devhazem/meetmesh/internal/domain"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func startHub(t *testing.T) *realtime.Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{Mode: "release", Secret: "test-secret"}
	r := router.SetupRouter(ctx, cfg, hub.New())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return realtime.NewClient(wsURL)
}

func TestHubPresenceRoundTrip(t *testing.T) {
	client := startHub(t)

	var mu sync.Mutex
	var joins, leaves []domain.PresenceKey

	watcher := client.Channel("room:x", "kw", false)
	watcher.OnPresence(func(evt core.PresenceEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch evt.Type {
		case core.PresenceJoin:
			joins = append(joins, evt.Key)
		case core.PresenceLeave:
			leaves = append(leaves, evt.Key)
		}
	})
	require.NoError(t, watcher.Subscribe(context.Background()))
	t.Cleanup(watcher.Close)

	member := client.Channel("room:x", "km", false)
	require.NoError(t, member.Subscribe(context.Background()))
	t.Cleanup(member.Close)

	require.NoError(t, member.Track(map[string]string{"name": "bob"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(joins) == 1 && joins[0] == "km"
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		state := watcher.PresenceState()
		_, ok := state["km"]
		return ok
	}, waitFor, tick)

	require.NoError(t, member.Untrack())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(leaves) == 1 && leaves[0] == "km"
	}, waitFor, tick)
}

func TestHubSnapshotForLateSubscriber(t *testing.T) {
	client := startHub(t)

	early := client.Channel("room:x", "k1", false)
	require.NoError(t, early.Subscribe(context.Background()))
	require.NoError(t, early.Track(map[string]string{"name": "alice"}))
	t.Cleanup(early.Close)

	// The hub applies track frames asynchronously; wait for the entry.
	require.Eventually(t, func() bool {
		late := client.Channel("room:x", "k2", false)
		if err := late.Subscribe(context.Background()); err != nil {
			return false
		}
		defer late.Close()
		raw, ok := late.PresenceState()["k1"]
		if !ok {
			return false
		}
		var v map[string]string
		return json.Unmarshal(raw, &v) == nil && v["name"] == "alice"
	}, waitFor, 100*time.Millisecond)
}

func TestHubBroadcastHonorsSelfFlag(t *testing.T) {
	client := startHub(t)

	var mu sync.Mutex
	var selfGot, otherGot []string

	self := client.Channel("room:x", "ks", true)
	self.OnBroadcast("CHAT", func(raw json.RawMessage) {
		mu.Lock()
		selfGot = append(selfGot, string(raw))
		mu.Unlock()
	})
	other := client.Channel("room:x", "ko", false)
	other.OnBroadcast("CHAT", func(raw json.RawMessage) {
		mu.Lock()
		otherGot = append(otherGot, string(raw))
		mu.Unlock()
	})
	require.NoError(t, self.Subscribe(context.Background()))
	require.NoError(t, other.Subscribe(context.Background()))
	t.Cleanup(self.Close)
	t.Cleanup(other.Close)

	require.NoError(t, self.Broadcast("CHAT", "hello"))
	require.NoError(t, other.Broadcast("CHAT", "back"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(selfGot) == 2 && len(otherGot) == 1
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `"hello"`, otherGot[0])
}

func TestHubDisconnectImpliesLeave(t *testing.T) {
	client := startHub(t)

	var mu sync.Mutex
	var leaves []domain.PresenceKey

	watcher := client.Channel("room:x", "kw", false)
	watcher.OnPresence(func(evt core.PresenceEvent) {
		if evt.Type == core.PresenceLeave {
			mu.Lock()
			leaves = append(leaves, evt.Key)
			mu.Unlock()
		}
	})
	require.NoError(t, watcher.Subscribe(context.Background()))
	t.Cleanup(watcher.Close)

	member := client.Channel("room:x", "km", false)
	require.NoError(t, member.Subscribe(context.Background()))
	require.NoError(t, member.Track(map[string]string{"name": "bob"}))

	require.Eventually(t, func() bool {
		_, ok := watcher.PresenceState()["km"]
		return ok
	}, waitFor, tick)

	// Dropping the connection without an untrack still fans out a leave.
	member.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(leaves) == 1 && leaves[0] == "km"
	}, waitFor, tick)
}
