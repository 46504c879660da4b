package relaymq

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/relaymq/adapter/log"
	"github.com/relaymq/adapter/timeoutqueue"
)

// ReplyConsumer is the correlator: one ephemeral reply queue per process,
// an inner Consumer bound to it without a worker pool (dispatch is
// trivial and must not be starved by application handlers saturating the
// shared pool), and the pending request_id → TimeoutQueue table.
type ReplyConsumer struct {
	qsvc      QSVCClient
	queueName string
	queueURL  string
	consumer  *Consumer

	errHandler ErrorHandler

	mu      sync.Mutex
	pending map[string]*timeoutqueue.TimeoutQueue[Message]
}

// ReplyConsumerOption configures a ReplyConsumer.
type ReplyConsumerOption func(*ReplyConsumer)

// WithReplyErrorHandler overrides the default stdout ErrorHandler.
func WithReplyErrorHandler(h ErrorHandler) ReplyConsumerOption {
	return func(rc *ReplyConsumer) { rc.errHandler = h }
}

// NewReplyConsumer creates the reply queue (named prefix + 16 random hex
// characters) via registry, and starts its consumer loop. Callers own
// lazily constructing this only once per process; see Adapter.Query.
func NewReplyConsumer(
	ctx context.Context,
	qsvc QSVCClient,
	registry *Registry,
	prefix string,
	opts ...ReplyConsumerOption,
) (*ReplyConsumer, error) {
	suffix, err := randomHex(16)
	if err != nil {
		return nil, NewConnectionError("new_reply_consumer", err)
	}

	name := prefix + suffix

	queueURL, err := registry.CreateQueue(ctx, name)
	if err != nil {
		return nil, err
	}

	rc := &ReplyConsumer{
		qsvc:       qsvc,
		queueName:  name,
		queueURL:   queueURL,
		errHandler: log.NewDefault(),
		pending:    map[string]*timeoutqueue.TimeoutQueue[Message]{},
	}

	for _, opt := range opts {
		opt(rc)
	}

	rc.consumer = NewConsumer(qsvc, queueURL, rc.dispatch, WithErrorHandler(rc.errHandler))
	rc.consumer.Start(ctx)

	return rc, nil
}

// QueueURL returns the reply queue's URL, sent as __reply_queue_url on
// every outgoing Query.
func (rc *ReplyConsumer) QueueURL() string { return rc.queueURL }

// RegisterRequestID returns the TimeoutQueue a Query should block on for
// requestID's response, inserting it under set-if-absent semantics: a
// racing double-registration is safe and returns the existing slot.
func (rc *ReplyConsumer) RegisterRequestID(requestID string) *timeoutqueue.TimeoutQueue[Message] {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if q, ok := rc.pending[requestID]; ok {
		return q
	}

	q := timeoutqueue.New[Message]()
	rc.pending[requestID] = q

	return q
}

// Forget removes requestID's pending entry without a value ever arriving;
// called best-effort on a Query's timeout path (I2, §5 cancellation).
func (rc *ReplyConsumer) Forget(requestID string) {
	rc.mu.Lock()
	delete(rc.pending, requestID)
	rc.mu.Unlock()
}

// dispatch is the reply queue's Handler: it reads __request_id, atomically
// removes the matching waiter (I2: delivered to at most one waiter) and
// pushes the message onto it. A message with no matching waiter (already
// timed out, or an unknown id) is dropped and logged; it is still ACKed,
// since retrying delivery of a reply nobody is waiting for serves no
// purpose.
func (rc *ReplyConsumer) dispatch(ctx context.Context, msg Message) error {
	requestID := msg.Headers().Get(HeaderRequestID)

	rc.mu.Lock()
	q, ok := rc.pending[requestID]
	if ok {
		delete(rc.pending, requestID)
	}
	rc.mu.Unlock()

	if !ok {
		rc.errHandler.Error(ctx, fmt.Errorf("reply consumer: no waiter for request id %q", requestID))

		return nil
	}

	q.Push(msg)

	return nil
}

// Stop stops the inner consumer and deletes the reply queue. Any pending
// waiters fail with TimeoutError naturally once their deadline elapses.
func (rc *ReplyConsumer) Stop(ctx context.Context) error {
	rc.consumer.Stop()

	if err := rc.qsvc.DeleteQueue(ctx, rc.queueURL); err != nil {
		return NewConnectionError("delete_queue", err)
	}

	return nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n/2+n%2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf)[:n], nil
}
