package session

import "time"

// BufferedMessage is one inbound webhook message waiting to be aggregated
// into a turn (spec.md §3 InboundBuffer, §4.8).
type BufferedMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
}

// InboundBuffer is the ephemeral, per-session list of messages accumulated
// during a debounce window, plus the monotonic timestamp of the latest
// append (spec.md §3).
type InboundBuffer struct {
	Entries       []BufferedMessage `json:"entries"`
	LastMessageTS time.Time         `json:"last_message_ts"`
}

// Append adds a message, keeping entries ordered by (timestamp, sequence)
// and advancing LastMessageTS.
func (b *InboundBuffer) Append(msg BufferedMessage) {
	b.Entries = append(b.Entries, msg)
	SortMessages(b.Entries)
	if msg.Timestamp.After(b.LastMessageTS) {
		b.LastMessageTS = msg.Timestamp
	}
}

// SortMessages orders messages in timestamp-then-sequence order, per
// spec.md's testable property #3 (the concatenation presented to the LLM
// equals the texts of the burst in timestamp+sequence order).
func SortMessages(msgs []BufferedMessage) {
	// Insertion sort: buffers are small (a human-speed burst), and this
	// keeps the sort stable without pulling in sort.Slice's reflection
	// overhead on a hot append path.
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && less(msgs[j], msgs[j-1]); j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}

func less(a, b BufferedMessage) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Sequence < b.Sequence
}

// Aggregate concatenates the buffer's message texts in order, newline
// separated, forming the single LLM input for the burst (spec.md §4.8
// step 3).
func (b *InboundBuffer) Aggregate() string {
	if len(b.Entries) == 0 {
		return ""
	}
	out := b.Entries[0].Content
	for _, m := range b.Entries[1:] {
		out += "\n" + m.Content
	}
	return out
}
