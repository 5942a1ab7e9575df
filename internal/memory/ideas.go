// Package memory holds NeoC's three kinds of memory: the idea queue fed
// by the subconscious, the short-term conversation transcript, and the
// SQLite-backed long-term store.
//
// IdeaQueue and Transcript are owned by the loop goroutine and do not
// lock. SQLiteStore is safe for concurrent use.
package memory

// IdeaQueue is an unbounded FIFO of ideas waiting to be handed to the
// conscious role.
type IdeaQueue struct {
	items []string
}

// Push appends an idea to the back of the queue.
func (q *IdeaQueue) Push(idea string) {
	q.items = append(q.items, idea)
}

// Pop removes and returns the oldest idea. It returns false when the
// queue is empty.
func (q *IdeaQueue) Pop() (string, bool) {
	if len(q.items) == 0 {
		return "", false
	}
	idea := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return idea, true
}

// Len returns the number of queued ideas.
func (q *IdeaQueue) Len() int {
	return len(q.items)
}
