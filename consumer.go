package relaymq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaymq/adapter/log"
	"github.com/relaymq/adapter/pool"
)

// nackVisibilityTimeout is how short a NACKed message's visibility window
// is reset to, per §4.3: short enough that the message becomes available
// to any consumer on the same queue with low latency.
const nackVisibilityTimeout = time.Second

// Handler processes one message received off a queue. Returning nil ACKs
// the message; returning an error satisfying IsNACK NACKs it; any other
// error leaves it neither ACKed nor NACKed, for QSVC's own visibility
// timeout to redeliver.
type Handler func(ctx context.Context, msg Message) error

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithPool attaches a shared WorkerPool. Without one, messages are
// processed inline on the consumer's own goroutine — the legacy path
// preserved for the ReplyConsumer and single-threaded deployments.
func WithPool(p *pool.WorkerPool) ConsumerOption {
	return func(c *Consumer) { c.pool = p }
}

// WithReadTimeout overrides the long-poll wait time (mq_aws_sqs_read_timeout).
func WithReadTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.waitTime = d }
}

// WithReporter attaches a Reporter observing every processing outcome.
func WithReporter(r Reporter) ConsumerOption {
	return func(c *Consumer) { c.reporter = r }
}

// WithErrorHandler overrides the default stdout ErrorHandler.
func WithErrorHandler(h ErrorHandler) ConsumerOption {
	return func(c *Consumer) { c.errHandler = h }
}

// NewConsumer returns a Consumer bound to one queue URL. Call Start to
// begin its long-poll loop.
func NewConsumer(qsvc QSVCClient, queueURL string, handler Handler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		qsvc:       qsvc,
		queueURL:   queueURL,
		handler:    handler,
		waitTime:   DefaultSQSReadTimeout,
		reporter:   NoopReporter{},
		errHandler: log.NewDefault(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Consumer owns one long-poll loop against a single queue URL: receiving
// messages, handing them to the worker pool (or processing inline), and
// ACKing or NACKing based on the outcome.
type Consumer struct {
	qsvc     QSVCClient
	queueURL string
	handler  Handler
	pool     *pool.WorkerPool

	waitTime   time.Duration
	reporter   Reporter
	errHandler ErrorHandler

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Start begins the long-poll loop on its own goroutine. Start is not
// re-entrant: calling it twice on the same Consumer panics.
func (c *Consumer) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		panic("relaymq: Consumer.Start called twice")
	}

	go c.loop(ctx)
}

// SignalStop requests the loop to exit after its current long-poll
// returns, without waiting. Used to stop many consumers in parallel: call
// SignalStop on all of them, then Stop on all of them, so total stop time
// is roughly one long-poll interval rather than N times that.
func (c *Consumer) SignalStop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Stop requests the loop to exit and waits for it to do so.
func (c *Consumer) Stop() {
	c.SignalStop()
	<-c.done
}

func (c *Consumer) loop(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		msg, err := c.qsvc.ReceiveMessage(ctx, c.queueURL, c.waitTime)
		if err != nil {
			c.errHandler.Error(ctx, NewConnectionError("receive_message", err))

			continue
		}

		if msg == nil {
			// Long-poll expired with nothing to deliver.
			continue
		}

		c.handle(ctx, msg)
	}
}

// handle dispatches one received message to the worker pool, or inline
// when no pool is attached. A pool rejection NACKs immediately, since
// that is the sole backpressure signal the pool exposes.
func (c *Consumer) handle(ctx context.Context, raw *InboundMessage) {
	gm := &GenericMessage{
		MsgID:      raw.MessageID,
		MsgHeaders: raw.Headers,
		MsgPayload: raw.Payload,
		MsgAt:      time.Now(),
	}

	task := func(taskCtx context.Context) {
		c.process(taskCtx, raw.ReceiptHandle, gm)
	}

	if c.pool == nil {
		task(ctx)

		return
	}

	if err := c.pool.Submit(task); err != nil {
		c.nack(ctx, raw.ReceiptHandle)
		c.reporter.Report(ctx, &Report{Target: c.queueURL, Outcome: OutcomeNACK, Error: err})
	}
}

// process runs the handler and applies the resulting ACK/NACK/neither
// decision (I3).
func (c *Consumer) process(ctx context.Context, receiptHandle string, msg Message) {
	start := time.Now()
	err := c.handler(ctx, msg)
	duration := time.Since(start)

	switch {
	case err == nil:
		c.ack(ctx, receiptHandle)
		c.reporter.Report(ctx, &Report{Target: c.queueURL, Outcome: OutcomeACK, Duration: duration})
	case IsNACK(err):
		c.nack(ctx, receiptHandle)
		c.reporter.Report(ctx, &Report{Target: c.queueURL, Outcome: OutcomeNACK, Duration: duration, Error: err})
	default:
		// Neither ACK nor NACK: the message redelivers after QSVC's
		// server-side visibility timeout. This avoids thrash-looping on
		// poison messages while still allowing eventual redelivery or
		// dead-lettering at the QSVC level.
		c.errHandler.Error(ctx, NewHandlerError(err))
		c.reporter.Report(ctx, &Report{Target: c.queueURL, Outcome: OutcomeHandlerError, Duration: duration, Error: err})
	}
}

func (c *Consumer) ack(ctx context.Context, receiptHandle string) {
	if err := c.qsvc.DeleteMessage(ctx, c.queueURL, receiptHandle); err != nil {
		c.errHandler.Error(ctx, NewConnectionError("delete_message", err))
	}
}

func (c *Consumer) nack(ctx context.Context, receiptHandle string) {
	if err := c.qsvc.ChangeMessageVisibility(ctx, c.queueURL, receiptHandle, nackVisibilityTimeout); err != nil {
		c.errHandler.Error(ctx, NewConnectionError("change_message_visibility", err))
	}
}
