package demux

// Queue is a FIFO of segment buffers awaiting append for one track.
type Queue struct {
	entries []queueEntry
	bytes   int64
}

type queueEntry struct {
	data []byte
	init bool
}

// Push appends a buffer. Init segments are never dropped by TrimTo.
func (q *Queue) Push(data []byte, init bool) {
	q.entries = append(q.entries, queueEntry{data: data, init: init})
	q.bytes += int64(len(data))
}

// Len returns the number of queued buffers.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Bytes returns the total queued size.
func (q *Queue) Bytes() int64 {
	return q.bytes
}

// Drain removes every queued buffer and returns them concatenated, or nil
// when the queue is empty.
func (q *Queue) Drain() []byte {
	switch len(q.entries) {
	case 0:
		return nil
	case 1:
		out := q.entries[0].data
		q.Reset()
		return out
	}

	out := make([]byte, 0, q.bytes)
	for _, e := range q.entries {
		out = append(out, e.data...)
	}
	q.Reset()
	return out
}

// TrimTo drops the oldest media buffers until the queue holds at most max
// bytes, always keeping init segments and the newest buffer. It returns the
// number of buffers dropped.
func (q *Queue) TrimTo(max int64) int {
	dropped := 0
	for q.bytes > max {
		idx := -1
		for i := 0; i < len(q.entries)-1; i++ {
			if !q.entries[i].init {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		q.bytes -= int64(len(q.entries[idx].data))
		q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
		dropped++
	}
	return dropped
}

// Reset empties the queue.
func (q *Queue) Reset() {
	q.entries = nil
	q.bytes = 0
}
