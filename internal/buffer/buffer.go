// Package buffer implements the queue of user messages held behind the
// Client Facade to paper over the fact that the child only reads new input
// between turns.
package buffer

import "sync"

// Message is user content tagged with the session id observed at enqueue
// time.
type Message struct {
	Content    any
	SessionTag string
}

// Buffer is an ordered, session-tagged queue of pending user messages.
type Buffer struct {
	mu    sync.Mutex
	items []Message
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Enqueue appends content tagged with sessionTag. It never blocks and never
// writes to the child directly.
func (b *Buffer) Enqueue(content any, sessionTag string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, Message{Content: content, SessionTag: sessionTag})
}

// Drain pops the head atomically with a tag check against currentSession.
// If the head's tag matches, it is returned with ok=true and only the head
// is removed. If it mismatches, the head and the entire remainder of the
// buffer are discarded and ok=false.
func (b *Buffer) Drain(currentSession string) (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return Message{}, false
	}

	head := b.items[0]
	if head.SessionTag != currentSession {
		b.items = nil
		return Message{}, false
	}

	b.items = b.items[1:]
	return head, true
}

// Len reports the number of messages currently queued.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
