package broker

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

type partitionKey struct {
	topic     string
	partition int
}

type partitionOffsets struct {
	pending []int64
	done    map[int64]kafka.Message
}

// offsetTracker lets deliveries finish out of order while only committing
// the contiguous prefix of finished offsets of each partition.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[partitionKey]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[partitionKey]*partitionOffsets)}
}

func (t *offsetTracker) track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := partitionKey{m.Topic, m.Partition}
	p, ok := t.partitions[k]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]kafka.Message)}
		t.partitions[k] = p
	}
	p.pending = append(p.pending, m.Offset)
}

// done marks m finished and returns the message whose offset should be
// committed, if the committable prefix advanced.
func (t *offsetTracker) done(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[partitionKey{m.Topic, m.Partition}]
	if !ok {
		return kafka.Message{}, false
	}
	p.done[m.Offset] = m

	var (
		last     kafka.Message
		advanced bool
	)
	for len(p.pending) > 0 {
		head := p.pending[0]
		dm, finished := p.done[head]
		if !finished {
			break
		}
		delete(p.done, head)
		p.pending = p.pending[1:]
		last, advanced = dm, true
	}
	return last, advanced
}
