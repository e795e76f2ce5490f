package controller

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuel-valencia/lab-framework/internal/protocol"
)

type capturedPublish struct {
	topic   string
	payload interface{}
}

type fakePublisher struct {
	mu        sync.Mutex
	published []capturedPublish
	err       error
}

func (p *fakePublisher) Publish(topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, capturedPublish{topic: topic, payload: payload})
	return nil
}

func (p *fakePublisher) last(t *testing.T) capturedPublish {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.published)
	return p.published[len(p.published)-1]
}

func TestSendCommandPublishesAddressed(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCorrelator(pub, nil)

	err := c.SendCommand("wm1", protocol.CommandCalibrate, map[string]interface{}{"height": 0.1}, "sess-1")
	require.NoError(t, err)
	assert.True(t, c.Pending("wm1"))

	sent := pub.last(t)
	assert.Equal(t, "lab/commands/wm1", sent.topic)

	cmd, ok := sent.payload.(protocol.Command)
	require.True(t, ok)
	assert.Equal(t, protocol.CommandCalibrate, cmd.Command)
	assert.Equal(t, "wm1", cmd.NodeID)
	assert.Equal(t, "sess-1", cmd.SessionID)
	assert.NotZero(t, cmd.Timestamp)

	// The payload stays wire-compatible.
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"sess-1"`)
}

func TestSendCommandRejectsUnknownName(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCorrelator(pub, nil)

	err := c.SendCommand("wm1", "Levitate", nil, "s")
	assert.True(t, errors.Is(err, ErrUnknownCommand))
	assert.False(t, c.Pending("wm1"))
	assert.Empty(t, pub.published)
}

func TestSendCommandClearsPendingOnPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	c := NewCorrelator(pub, nil)

	err := c.SendCommand("wm1", protocol.CommandReset, nil, "s")
	assert.Error(t, err)
	assert.False(t, c.Pending("wm1"))
}

func TestWaitForResponseResolves(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCorrelator(pub, nil)

	require.NoError(t, c.SendCommand("wm1", protocol.CommandReset, nil, "s"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		c.HandleResponse(&protocol.Response{
			NodeID:  "wm1",
			Command: protocol.CommandReset,
			Status:  protocol.StatusSuccess,
		})
	}()

	resp, err := c.WaitForResponse("wm1", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
	assert.False(t, c.Pending("wm1"))
}

func TestWaitForResponseTimesOut(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCorrelator(pub, nil)

	require.NoError(t, c.SendCommand("wm1", protocol.CommandReset, nil, "s"))

	start := time.Now()
	_, err := c.WaitForResponse("wm1", 150*time.Millisecond)
	assert.True(t, errors.Is(err, ErrResponseTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestResponseBeforeWaitIsNotLost(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCorrelator(pub, nil)

	require.NoError(t, c.SendCommand("wm1", protocol.CommandReset, nil, "s"))
	c.HandleResponse(&protocol.Response{
		NodeID: "wm1",
		Status: protocol.StatusSuccess,
	})

	resp, err := c.WaitForResponse("wm1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
}
