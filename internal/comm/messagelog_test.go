package comm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageLogAppendAndOrder(t *testing.T) {
	l := NewMessageLog(10)

	l.Append("a/status", "first")
	l.Append("a/data", "second")

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a/status", entries[0].Topic)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "second", entries[1].Message)
	assert.NotEmpty(t, entries[0].Timestamp)
}

func TestMessageLogSkipsEmpty(t *testing.T) {
	l := NewMessageLog(10)

	l.Append("", "payload")
	l.Append("topic", "")

	assert.Zero(t, l.Len())
}

func TestMessageLogWrapAround(t *testing.T) {
	l := NewMessageLog(3)

	for i := 1; i <= 5; i++ {
		l.Append("t", fmt.Sprintf("msg-%d", i))
	}

	entries := l.Entries()
	require.Len(t, entries, 3)
	// Oldest two were evicted.
	assert.Equal(t, "msg-3", entries[0].Message)
	assert.Equal(t, "msg-5", entries[2].Message)
}

func TestMessageLogClear(t *testing.T) {
	l := NewMessageLog(5)
	l.Append("t", "m")
	l.Clear()

	assert.Zero(t, l.Len())
	assert.Empty(t, l.Entries())

	// Reusable after clear.
	l.Append("t", "again")
	assert.Equal(t, 1, l.Len())
}
