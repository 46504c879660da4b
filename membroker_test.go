package relaymq_test

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaymq/adapter"
)

// memBroker is a minimal in-memory QSVC+TSVC fake used to drive
// end-to-end Adapter tests without a real AWS/GCP backend. It implements
// just enough of the wire semantics — receipt handles, visibility-timeout
// requeue, raw-delivery fan-out — to exercise the adapter honestly.
type memBroker struct {
	mu      sync.Mutex
	queues  map[string]*memQueue
	topics  map[string]*memTopic
	seq     int64
	delayed atomic.Int64

	getQueueURLCalls atomic.Int64
	lastOwnerAccount atomic.Value
}

func newMemBroker() *memBroker {
	return &memBroker{queues: map[string]*memQueue{}, topics: map[string]*memTopic{}}
}

type memQueue struct {
	ch chan *relaymq.InboundMessage

	mu       sync.Mutex
	inflight map[string]*relaymq.InboundMessage
}

type memTopic struct {
	subs []string // queue URLs
}

func (b *memBroker) nextID() string {
	return strconv.FormatInt(b.seq, 10)
}

func cloneHeaders(h relaymq.Headers) relaymq.Headers {
	cp := make(relaymq.Headers, len(h))
	for k, v := range h {
		cp[k] = v
	}

	return cp
}

func (b *memBroker) CreateQueue(ctx context.Context, fqn string, attrs relaymq.QueueAttributes) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[fqn]; !ok {
		b.queues[fqn] = &memQueue{ch: make(chan *relaymq.InboundMessage, 1024), inflight: map[string]*relaymq.InboundMessage{}}
	}

	return nil
}

func (b *memBroker) GetQueueURL(ctx context.Context, fqn, ownerAccountID string) (string, error) {
	b.getQueueURLCalls.Add(1)
	b.lastOwnerAccount.Store(ownerAccountID)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[fqn]; !ok {
		return "", relaymq.ErrQueueNotFound
	}

	return fqn, nil
}

func (b *memBroker) GetQueueARN(ctx context.Context, queueURL string) (string, error) {
	return "arn:mem:queue:" + queueURL, nil
}

func (b *memBroker) DeleteQueue(ctx context.Context, queueURL string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.queues, queueURL)

	return nil
}

func (b *memBroker) queue(queueURL string) *memQueue {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.queues[queueURL]
}

func (b *memBroker) ReceiveMessage(ctx context.Context, queueURL string, waitTime time.Duration) (*relaymq.InboundMessage, error) {
	q := b.queue(queueURL)
	if q == nil {
		return nil, fmt.Errorf("no such queue %q", queueURL)
	}

	select {
	case msg := <-q.ch:
		b.mu.Lock()
		b.seq++
		rh := b.nextID()
		b.mu.Unlock()

		cp := *msg
		cp.ReceiptHandle = rh

		q.mu.Lock()
		q.inflight[rh] = &cp
		q.mu.Unlock()

		return &cp, nil
	case <-time.After(waitTime):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *memBroker) SendMessage(ctx context.Context, queueURL string, body []byte, headers relaymq.Headers) error {
	q := b.queue(queueURL)
	if q == nil {
		return fmt.Errorf("no such queue %q", queueURL)
	}

	b.mu.Lock()
	b.seq++
	id := b.nextID()
	b.mu.Unlock()

	msg := &relaymq.InboundMessage{MessageID: id, Headers: cloneHeaders(headers), Payload: append([]byte(nil), body...)}

	select {
	case q.ch <- msg:
		return nil
	default:
		return fmt.Errorf("queue %q full", queueURL)
	}
}

func (b *memBroker) DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error {
	q := b.queue(queueURL)
	if q == nil {
		return nil
	}

	q.mu.Lock()
	delete(q.inflight, receiptHandle)
	q.mu.Unlock()

	return nil
}

func (b *memBroker) ChangeMessageVisibility(ctx context.Context, queueURL, receiptHandle string, visibilityTimeout time.Duration) error {
	q := b.queue(queueURL)
	if q == nil {
		return nil
	}

	q.mu.Lock()
	msg, ok := q.inflight[receiptHandle]
	if ok {
		delete(q.inflight, receiptHandle)
	}
	q.mu.Unlock()

	if !ok {
		return nil
	}

	b.delayed.Add(1)
	time.AfterFunc(visibilityTimeout, func() {
		q.ch <- msg
		b.delayed.Add(-1)
	})

	return nil
}

func (b *memBroker) CreateTopic(ctx context.Context, fqn string, attrs relaymq.QueueAttributes) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[fqn]; !ok {
		b.topics[fqn] = &memTopic{}
	}

	return nil
}

func (b *memBroker) FindTopicARN(ctx context.Context, fqn string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[fqn]; !ok {
		return "", relaymq.ErrTopicNotFound
	}

	return "arn:mem:topic:" + fqn, nil
}

func (b *memBroker) Publish(ctx context.Context, topicARN string, body []byte, headers relaymq.Headers) error {
	b.mu.Lock()
	t, ok := b.topics[strings.TrimPrefix(topicARN, "arn:mem:topic:")]
	var subs []string
	if ok {
		subs = append(subs, t.subs...)
	}
	b.mu.Unlock()

	for _, queueURL := range subs {
		if err := b.SendMessage(ctx, queueURL, body, headers); err != nil {
			return err
		}
	}

	return nil
}

func (b *memBroker) Subscribe(ctx context.Context, topicARN, queueARN string) error {
	topicFQN := strings.TrimPrefix(topicARN, "arn:mem:topic:")
	queueURL := strings.TrimPrefix(queueARN, "arn:mem:queue:")

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topicFQN]
	if !ok {
		return fmt.Errorf("no such topic %q", topicARN)
	}

	t.subs = append(t.subs, queueURL)

	return nil
}

var (
	_ relaymq.QSVCClient = (*memBroker)(nil)
	_ relaymq.TSVCClient = (*memBroker)(nil)
)
