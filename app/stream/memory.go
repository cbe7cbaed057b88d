package stream

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process stream backend used in tests. Each topic is
// a single ordered partition; consumers track their own uncommitted offset
// and can be rewound to the last commit to simulate redelivery.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string]*memTopic
}

type memTopic struct {
	mu      sync.Mutex
	msgs    []Message
	waiters []chan struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string]*memTopic)}
}

func (b *MemoryBroker) topic(name string) *memTopic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &memTopic{}
		b.topics[name] = t
	}
	return t
}

// Messages returns a snapshot of everything published to a topic.
func (b *MemoryBroker) Messages(name string) []Message {
	t := b.topic(name)
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func (b *MemoryBroker) Publisher(name string) *MemoryPublisher {
	return &MemoryPublisher{topic: b.topic(name)}
}

func (b *MemoryBroker) Consumer(name string) *MemoryConsumer {
	return &MemoryConsumer{topic: b.topic(name)}
}

type MemoryPublisher struct {
	topic *memTopic
}

func (p *MemoryPublisher) Publish(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.topic.mu.Lock()
	p.topic.msgs = append(p.topic.msgs, Message{Key: key, Value: value})
	waiters := p.topic.waiters
	p.topic.waiters = nil
	p.topic.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

type MemoryConsumer struct {
	topic     *memTopic
	mu        sync.Mutex
	next      int
	committed int
}

func (c *MemoryConsumer) Fetch(ctx context.Context) (Message, error) {
	for {
		c.topic.mu.Lock()
		c.mu.Lock()
		if c.next < len(c.topic.msgs) {
			m := c.topic.msgs[c.next]
			m.ref = c.next
			c.next++
			c.mu.Unlock()
			c.topic.mu.Unlock()
			return m, nil
		}
		c.mu.Unlock()

		waiter := make(chan struct{})
		c.topic.waiters = append(c.topic.waiters, waiter)
		c.topic.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-waiter:
		}
	}
}

func (c *MemoryConsumer) Commit(ctx context.Context, msgs ...Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		if offset, ok := m.ref.(int); ok && offset+1 > c.committed {
			c.committed = offset + 1
		}
	}
	return nil
}

// Rewind resets the read position to the last committed offset, simulating
// a consumer restart with redelivery of uncommitted records.
func (c *MemoryConsumer) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = c.committed
}

func (c *MemoryConsumer) Close() error { return nil }
