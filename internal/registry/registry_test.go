package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuel-valencia/lab-framework/internal/protocol"
)

func announcement(nodeID string) protocol.DiscoveryResponse {
	return protocol.DiscoveryResponse{
		NodeID:       nodeID,
		IPAddress:    "10.0.0.7",
		Role:         "wavemaker",
		Capabilities: []string{"sensor", "actuator"},
	}
}

func newTestRegistry(t *testing.T, clock time2.Clock) *Registry {
	t.Helper()
	store := NewFileStore(filepath.Join(t.TempDir(), "node_registry.json"))
	r, err := New(store, 5*time.Second, clock)
	require.NoError(t, err)
	return r
}

func TestAddOrUpdateNodeRegisters(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	r := newTestRegistry(t, clock)

	r.AddOrUpdateNode(announcement("wm1"))

	node, ok := r.Get("wm1")
	require.True(t, ok)
	assert.Equal(t, StatusOnline, node.Status)
	assert.Equal(t, "10.0.0.7", node.IPAddress)
	assert.Equal(t, []string{"sensor", "actuator"}, node.Capabilities)
	assert.Equal(t, clock.Now(), node.LastSeen)
}

func TestOfflineSweepAndRecovery(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	r := newTestRegistry(t, clock)
	r.AddOrUpdateNode(announcement("wm1"))
	r.AddOrUpdateNode(announcement("gauge1"))

	// Case 1: within the timeout nothing is marked.
	clock.Advance(4 * time.Second)
	assert.Empty(t, r.CheckForOfflineNodes())

	// Case 2: past the timeout both go offline, exactly once.
	clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"gauge1", "wm1"}, r.CheckForOfflineNodes())
	assert.Empty(t, r.CheckForOfflineNodes())

	node, _ := r.Get("wm1")
	assert.Equal(t, StatusOffline, node.Status)

	// Case 3: a fresh announcement recovers the node.
	r.AddOrUpdateNode(announcement("wm1"))
	node, _ = r.Get("wm1")
	assert.Equal(t, StatusOnline, node.Status)
}

func TestMarkSeenOnlyKnownNodes(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	r := newTestRegistry(t, clock)

	// Unknown ids are ignored: responses alone cannot register a node.
	r.MarkSeen("ghost")
	_, ok := r.Get("ghost")
	assert.False(t, ok)

	r.AddOrUpdateNode(announcement("wm1"))
	clock.Advance(10 * time.Second)
	r.CheckForOfflineNodes()

	r.MarkSeen("wm1")
	node, _ := r.Get("wm1")
	assert.Equal(t, StatusOnline, node.Status)
	assert.Equal(t, clock.Now(), node.LastSeen)
}

func TestRecordCommandHistoryAndCalibration(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	r := newTestRegistry(t, clock)
	r.AddOrUpdateNode(announcement("wm1"))

	r.RecordCommand("wm1", protocol.CommandTest, protocol.StatusSuccess)
	r.RecordCommand("wm1", protocol.CommandCalibrate, protocol.StatusError)

	node, _ := r.Get("wm1")
	require.Len(t, node.History, 2)
	assert.Equal(t, StatusOnline, node.Status)

	r.RecordCommand("wm1", protocol.CommandCalibrate, protocol.StatusSuccess)
	node, _ = r.Get("wm1")
	assert.Equal(t, StatusCalibrated, node.Status)

	// Unknown nodes never panic.
	r.RecordCommand("ghost", protocol.CommandTest, protocol.StatusSuccess)
}

func TestCalibratedStatusSurvivesAnnouncements(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	r := newTestRegistry(t, clock)
	r.AddOrUpdateNode(announcement("wm1"))
	r.RecordCommand("wm1", protocol.CommandCalibrate, protocol.StatusSuccess)

	// Case 1: periodic announcements refresh liveness without demoting
	// the node back to ONLINE.
	clock.Advance(time.Second)
	r.AddOrUpdateNode(announcement("wm1"))
	node, _ := r.Get("wm1")
	assert.Equal(t, StatusCalibrated, node.Status)
	assert.Equal(t, clock.Now(), node.LastSeen)

	// Case 2: the same holds for command responses.
	clock.Advance(time.Second)
	r.MarkSeen("wm1")
	node, _ = r.Get("wm1")
	assert.Equal(t, StatusCalibrated, node.Status)
}

func TestCalibratedNodeGoesOfflineWhenSilent(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	r := newTestRegistry(t, clock)
	r.AddOrUpdateNode(announcement("wm1"))
	r.RecordCommand("wm1", protocol.CommandCalibrate, protocol.StatusSuccess)

	clock.Advance(6 * time.Second)
	assert.Equal(t, []string{"wm1"}, r.CheckForOfflineNodes())
	node, _ := r.Get("wm1")
	assert.Equal(t, StatusOffline, node.Status)

	// Recovery starts over at ONLINE: the node must recalibrate.
	r.AddOrUpdateNode(announcement("wm1"))
	node, _ = r.Get("wm1")
	assert.Equal(t, StatusOnline, node.Status)
}

func TestRegistryPersistsAcrossRestart(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	path := filepath.Join(t.TempDir(), "node_registry.json")
	store := NewFileStore(path)

	r, err := New(store, 5*time.Second, clock)
	require.NoError(t, err)
	r.AddOrUpdateNode(announcement("wm1"))
	r.RecordCommand("wm1", protocol.CommandCalibrate, protocol.StatusSuccess)

	// A second registry over the same store sees the node with its
	// persisted status; the sweep handles stale liveness from there.
	r2, err := New(store, 5*time.Second, clock)
	require.NoError(t, err)
	node, ok := r2.Get("wm1")
	require.True(t, ok)
	assert.Equal(t, StatusCalibrated, node.Status)
	require.Len(t, node.History, 1)
}

func TestListIsSortedAndCopied(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	r := newTestRegistry(t, clock)
	r.AddOrUpdateNode(announcement("zeta"))
	r.AddOrUpdateNode(announcement("alpha"))

	nodes := r.List()
	require.Len(t, nodes, 2)
	assert.Equal(t, "alpha", nodes[0].NodeID)
	assert.Equal(t, "zeta", nodes[1].NodeID)

	// Mutating the copy must not leak into the registry.
	nodes[0].Capabilities[0] = "mangled"
	fresh, _ := r.Get("alpha")
	assert.Equal(t, "sensor", fresh.Capabilities[0])
}

func TestFileStoreLoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	nodes, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, nodes)
}
