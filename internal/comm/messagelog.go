package comm

import (
	"sync"
	"time"

	"github.com/manuel-valencia/lab-framework/internal/protocol"
)

// MessageLogCapacity bounds the audit ring buffer.
const MessageLogCapacity = 1000

// LogEntry is one audited inbound or outbound message.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Topic     string `json:"topic"`
	Message   string `json:"message"`
}

// MessageLog is a bounded ring buffer of the most recent messages seen by
// a Session. Writes are exclusive, reads return a snapshot copy.
type MessageLog struct {
	mu      sync.RWMutex
	entries []LogEntry
	start   int
	size    int
}

// NewMessageLog creates a message log with the given capacity. Capacity
// values below 1 fall back to MessageLogCapacity.
func NewMessageLog(capacity int) *MessageLog {
	if capacity < 1 {
		capacity = MessageLogCapacity
	}
	return &MessageLog{entries: make([]LogEntry, capacity)}
}

// Append records a topic/message pair with the current wire timestamp.
// Empty topics or messages are ignored rather than logged.
func (l *MessageLog) Append(topic, message string) {
	if topic == "" || message == "" {
		return
	}
	entry := LogEntry{
		Timestamp: protocol.WireTime(time.Now()),
		Topic:     topic,
		Message:   message,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.size < len(l.entries) {
		l.entries[(l.start+l.size)%len(l.entries)] = entry
		l.size++
		return
	}
	// Full: overwrite the oldest entry.
	l.entries[l.start] = entry
	l.start = (l.start + 1) % len(l.entries)
}

// Entries returns a copy of the buffered entries, oldest first.
func (l *MessageLog) Entries() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LogEntry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.entries[(l.start+i)%len(l.entries)]
	}
	return out
}

// Len returns the number of buffered entries.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Clear drops all buffered entries.
func (l *MessageLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.start = 0
	l.size = 0
}
