package fund

// Queue is a strict-FIFO event queue shared by the engine and its
// collaborators. Collaborators may push new events from within a dispatch
// handler, which is how multi-hop event chains (signal -> order -> fill)
// settle inside a single trading period.
//
// The queue is owned by the engine's single thread of control and is not
// safe for concurrent use. Collaborators that receive data on background
// goroutines must buffer internally and push only from their engine-invoked
// methods.
type Queue struct {
	events []Event
}

// NewQueue creates an empty event queue.
func NewQueue() *Queue {
	return &Queue{events: make([]Event, 0, 1024)}
}

// Push appends an event in arrival order.
func (q *Queue) Push(e Event) {
	q.events = append(q.events, e)
}

// Pop removes and returns the oldest event. It never blocks; the second
// return value is false when the queue is empty for this period.
func (q *Queue) Pop() (Event, bool) {
	if len(q.events) == 0 {
		return nil, false
	}
	e := q.events[0]
	q.events[0] = nil
	q.events = q.events[1:]
	return e, true
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.events)
}

// Clear removes all queued events.
func (q *Queue) Clear() {
	for i := range q.events {
		q.events[i] = nil
	}
	q.events = q.events[:0]
}
