package relaymq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaymq/adapter/log"
	"github.com/relaymq/adapter/pool"
)

// sendOptions carries the options shared by Command, Query and Event.
type sendOptions struct {
	headers Headers
	timeout *time.Duration
}

// SendOption configures a single Command/Query/Event call.
type SendOption func(*sendOptions)

// WithHeader attaches an extra header to the outgoing message. Reserved
// (double-underscore) keys belong to the adapter's own protocol headers,
// so setting them here has no effect.
func WithHeader(key, value string) SendOption {
	return func(o *sendOptions) {
		if strings.HasPrefix(key, "__") {
			return
		}

		o.headers.Set(key, value)
	}
}

// WithQueryTimeout overrides mq_default_query_timeout for a single Query call.
func WithQueryTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) { o.timeout = &d }
}

// ProcessorOption configures StartRequestProcessor and StartEventProcessorWithQueue.
type ProcessorOption func(*processorOptions)

type processorOptions struct {
	readTimeout time.Duration
}

// WithProcessorReadTimeout overrides mq_aws_sqs_read_timeout for one processor's
// long-poll loop.
func WithProcessorReadTimeout(d time.Duration) ProcessorOption {
	return func(o *processorOptions) { o.readTimeout = d }
}

// AdapterOption configures an Adapter at construction time.
type AdapterOption func(*Adapter)

// WithCodec overrides the default JSONCodec.
func WithCodec(c Codec) AdapterOption {
	return func(a *Adapter) { a.codec = c }
}

// WithAdapterErrorHandler overrides the default stdout ErrorHandler.
func WithAdapterErrorHandler(h ErrorHandler) AdapterOption {
	return func(a *Adapter) { a.errHandler = h }
}

// WithAdapterReporter attaches a Reporter observing every processed message.
func WithAdapterReporter(r Reporter) AdapterOption {
	return func(a *Adapter) { a.reporter = r }
}

// NewAdapter builds an Adapter over already-constructed QSVC/TSVC clients.
// Open is the config-driven factory that picks a transport backend and
// calls this; tests and callers with their own client lifecycle call it
// directly.
func NewAdapter(cfg Config, qsvc QSVCClient, tsvc TSVCClient, opts ...AdapterOption) (*Adapter, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	crossAccount, err := ParseCrossAccountMapping(cfg.CrossAccountMapping)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		cfg:        cfg,
		qsvc:       qsvc,
		tsvc:       tsvc,
		registry:   NewRegistry(qsvc, tsvc, cfg.Namespace, cfg.AWSKMSMasterKeyID, crossAccount),
		codec:      JSONCodec{},
		errHandler: log.NewDefault(),
		reporter:   NoopReporter{},
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Adapter is the public façade: Start/Stop, Command/Query/Event,
// StartRequestProcessor/StartEventProcessor/StartEventProcessorWithQueue,
// StopAllProcessors. It owns header encoding, KMS-at-rest attributes and
// topic↔queue subscription wiring.
type Adapter struct {
	cfg      Config
	qsvc     QSVCClient
	tsvc     TSVCClient
	registry *Registry

	codec      Codec
	errHandler ErrorHandler
	reporter   Reporter

	pool *pool.WorkerPool

	runCtx context.Context
	cancel context.CancelFunc

	replyMu       sync.Mutex
	replyConsumer *ReplyConsumer

	consumersMu sync.Mutex
	consumers   []*Consumer

	ephemeralMu    sync.Mutex
	ephemeralQueue []string
}

// Start starts the worker pool and runs an availability check (a no-op
// queue and topic lookup); any failure surfaces as a ConnectionError. ctx
// bounds the lifetime of every consumer loop started afterwards, whether
// directly or via StartRequestProcessor/StartEventProcessorWithQueue.
func (a *Adapter) Start(ctx context.Context) error {
	a.runCtx, a.cancel = context.WithCancel(ctx)
	a.pool = pool.New(a.cfg.WorkerPoolMinThreads, a.cfg.WorkerPoolMaxThreads, a.cfg.WorkerPoolMaxBacklog)

	return a.checkAvailability(ctx)
}

// checkAvailability performs a no-op queue and topic lookup to confirm
// connectivity. A NonExistentQueue/Topic response is not a failure here —
// only a genuine connection problem is.
func (a *Adapter) checkAvailability(ctx context.Context) error {
	const probeName = "__relaymq_availability_check__"

	if _, err := a.registry.QueueURL(ctx, probeName); err != nil && !errors.Is(err, ErrQueueNotFound) {
		return err
	}

	if _, err := a.registry.TopicARN(ctx, probeName); err != nil && !errors.Is(err, ErrTopicNotFound) {
		return err
	}

	return nil
}

// Stop stops all processors, shuts down the worker pool (draining
// in-flight handlers), stops the reply consumer and deletes any ephemeral
// per-process queues.
func (a *Adapter) Stop(ctx context.Context) error {
	if err := a.StopAllProcessors(ctx); err != nil {
		return err
	}

	if a.pool != nil {
		if err := a.pool.Shutdown(ctx); err != nil {
			return fmt.Errorf("stopping worker pool: %w", err)
		}
	}

	if a.cancel != nil {
		a.cancel()
	}

	a.registry.Reset()

	return nil
}

// Command sends a one-way message to "<queue>/<method>". The queue must
// already exist; a missing queue surfaces as a ConnectionError.
func (a *Adapter) Command(ctx context.Context, target string, body any, opts ...SendOption) error {
	ct, err := ParseCommandTarget(target)
	if err != nil {
		return err
	}

	o := a.applyOptions(opts)

	payload, err := a.codec.Marshal(body)
	if err != nil {
		return NewConfigError(fmt.Errorf("marshaling command body: %w", err))
	}

	queueURL, err := a.registry.QueueURL(ctx, ct.Queue)
	if err != nil {
		if errors.Is(err, ErrQueueNotFound) {
			return NewConnectionError("get_queue_url", fmt.Errorf("command target queue %q does not exist", ct.Queue))
		}

		return err
	}

	headers := o.headers
	headers.Set(HeaderMethod, ct.Method)

	if err := a.qsvc.SendMessage(ctx, queueURL, payload, headers); err != nil {
		return NewConnectionError("send_message", err)
	}

	return nil
}

// Query sends a request to "<queue>/<method>" and blocks for a reply, up
// to opts' timeout or mq_default_query_timeout.
func (a *Adapter) Query(ctx context.Context, target string, body any, opts ...SendOption) ([]byte, error) {
	ct, err := ParseCommandTarget(target)
	if err != nil {
		return nil, err
	}

	o := a.applyOptions(opts)

	payload, err := a.codec.Marshal(body)
	if err != nil {
		return nil, NewConfigError(fmt.Errorf("marshaling query body: %w", err))
	}

	queueURL, err := a.registry.QueueURL(ctx, ct.Queue)
	if err != nil {
		if errors.Is(err, ErrQueueNotFound) {
			return nil, NewConnectionError("get_queue_url", fmt.Errorf("query target queue %q does not exist", ct.Queue))
		}

		return nil, err
	}

	rc, err := a.ensureReplyConsumer(ctx)
	if err != nil {
		return nil, err
	}

	requestID, err := randomHex(16)
	if err != nil {
		return nil, NewConnectionError("query", err)
	}

	waiter := rc.RegisterRequestID(requestID)

	headers := o.headers
	headers.Set(HeaderMethod, ct.Method)
	headers.Set(HeaderRequestID, requestID)
	headers.Set(HeaderReplyQueueURL, rc.QueueURL())

	if err := a.qsvc.SendMessage(ctx, queueURL, payload, headers); err != nil {
		rc.Forget(requestID)

		return nil, NewConnectionError("send_message", err)
	}

	timeout := a.cfg.DefaultQueryTimeout
	if o.timeout != nil {
		timeout = *o.timeout
	}

	reply, err := waiter.Pop(true, &timeout)
	if err != nil {
		rc.Forget(requestID)

		return nil, &TimeoutError{Target: target}
	}

	return reply.Payload(), nil
}

// Event publishes to "<topic>#<event_type>", creating the topic if absent.
func (a *Adapter) Event(ctx context.Context, target string, body any, opts ...SendOption) error {
	et, err := ParseEventTarget(target)
	if err != nil {
		return err
	}

	o := a.applyOptions(opts)

	payload, err := a.codec.Marshal(body)
	if err != nil {
		return NewConfigError(fmt.Errorf("marshaling event body: %w", err))
	}

	topicARN, err := a.registry.EnsureTopic(ctx, et.Topic)
	if err != nil {
		return err
	}

	headers := o.headers
	headers.Set(HeaderEventType, et.EventType)

	if err := a.tsvc.Publish(ctx, topicARN, payload, headers); err != nil {
		return NewConnectionError("publish", err)
	}

	return nil
}

// StartRequestProcessor ensures queueName exists and starts a Consumer
// that dispatches each message to processor.CallQuery when it carries a
// reply queue, or processor.CallCommand otherwise. A failure to deliver a
// query response is logged and recovered: the request message is still
// ACKed, and the caller observes a timeout.
func (a *Adapter) StartRequestProcessor(queueName string, processor Processor, opts ...ProcessorOption) error {
	o := applyProcessorOptions(opts)

	queueURL, err := a.registry.EnsureQueue(a.runCtx, queueName)
	if err != nil {
		return err
	}

	consumer := NewConsumer(a.qsvc, queueURL, a.requestHandler(processor), a.consumerOptions(o)...)
	a.registerConsumer(consumer)

	return nil
}

// requestHandler returns the Handler StartRequestProcessor attaches to its
// Consumer.
func (a *Adapter) requestHandler(processor Processor) Handler {
	return func(ctx context.Context, msg Message) error {
		method := msg.Headers().Get(HeaderMethod)
		replyURL := msg.Headers().Get(HeaderReplyQueueURL)

		if replyURL == "" {
			return processor.CallCommand(ctx, method, msg)
		}

		requestID := msg.Headers().Get(HeaderRequestID)

		resp, err := processor.CallQuery(ctx, method, msg)
		if err != nil {
			return err
		}

		replyHeaders := Headers{HeaderRequestID: requestID}
		if err := a.qsvc.SendMessage(ctx, replyURL, resp, replyHeaders); err != nil {
			a.errHandler.Error(ctx, NewConnectionError("send_message", err))
		}

		return nil
	}
}

// StartEventProcessorWithQueue ensures topicName and queueName exist,
// subscribes the queue to the topic with raw message delivery, and starts
// a Consumer dispatching to processor.CallEvent.
func (a *Adapter) StartEventProcessorWithQueue(topicName, queueName string, processor Processor, opts ...ProcessorOption) error {
	o := applyProcessorOptions(opts)

	topicARN, err := a.registry.EnsureTopic(a.runCtx, topicName)
	if err != nil {
		return err
	}

	queueURL, err := a.registry.EnsureQueue(a.runCtx, queueName)
	if err != nil {
		return err
	}

	if err := a.registry.Subscribe(a.runCtx, topicARN, queueURL); err != nil {
		return err
	}

	consumer := NewConsumer(a.qsvc, queueURL, a.eventHandler(processor), a.consumerOptions(o)...)
	a.registerConsumer(consumer)

	return nil
}

// StartEventProcessor subscribes to topicName via an auto-created private
// per-process queue (deleted on StopAllProcessors), for callers with no
// queue naming convention of their own.
func (a *Adapter) StartEventProcessor(topicName string, processor Processor, opts ...ProcessorOption) error {
	suffix, err := randomHex(12)
	if err != nil {
		return NewConnectionError("start_event_processor", err)
	}

	privateQueueName := "private-" + topicName + "-" + suffix

	o := applyProcessorOptions(opts)

	topicARN, err := a.registry.EnsureTopic(a.runCtx, topicName)
	if err != nil {
		return err
	}

	queueURL, err := a.registry.CreateQueue(a.runCtx, privateQueueName)
	if err != nil {
		return err
	}

	if err := a.registry.Subscribe(a.runCtx, topicARN, queueURL); err != nil {
		return err
	}

	a.ephemeralMu.Lock()
	a.ephemeralQueue = append(a.ephemeralQueue, queueURL)
	a.ephemeralMu.Unlock()

	consumer := NewConsumer(a.qsvc, queueURL, a.eventHandler(processor), a.consumerOptions(o)...)
	a.registerConsumer(consumer)

	return nil
}

// eventHandler returns the Handler the event processors attach to their Consumer.
func (a *Adapter) eventHandler(processor Processor) Handler {
	return func(ctx context.Context, msg Message) error {
		return processor.CallEvent(ctx, msg.Headers().Get(HeaderEventType), msg)
	}
}

// StopAllProcessors signals every registered Consumer to stop, then joins
// them all — so total stop time is roughly one long-poll interval rather
// than N times that — stops the reply consumer, and deletes any ephemeral
// per-process queues created by StartEventProcessor.
func (a *Adapter) StopAllProcessors(ctx context.Context) error {
	a.consumersMu.Lock()
	consumers := a.consumers
	a.consumers = nil
	a.consumersMu.Unlock()

	for _, c := range consumers {
		c.SignalStop()
	}

	// Every consumer has been signalled, so their outstanding long-polls
	// run down in parallel; joining them concurrently keeps total stop
	// time at roughly one long-poll interval regardless of how many
	// consumers are registered — the same goroutine-supervision role
	// errgroup.Group plays for the teacher's subscription loops.
	var g errgroup.Group
	for _, c := range consumers {
		g.Go(func() error {
			c.Stop()

			return nil
		})
	}
	_ = g.Wait()

	a.replyMu.Lock()
	rc := a.replyConsumer
	a.replyConsumer = nil
	a.replyMu.Unlock()

	if rc != nil {
		if err := rc.Stop(ctx); err != nil {
			return err
		}
	}

	a.ephemeralMu.Lock()
	queues := a.ephemeralQueue
	a.ephemeralQueue = nil
	a.ephemeralMu.Unlock()

	for _, queueURL := range queues {
		if err := a.qsvc.DeleteQueue(ctx, queueURL); err != nil {
			a.errHandler.Error(ctx, NewConnectionError("delete_queue", err))
		}
	}

	return nil
}

// ensureReplyConsumer lazily constructs the shared ReplyConsumer, guarded
// by its own mutex so the first N concurrent Query calls share one reply
// consumer (§4.4).
func (a *Adapter) ensureReplyConsumer(ctx context.Context) (*ReplyConsumer, error) {
	a.replyMu.Lock()
	defer a.replyMu.Unlock()

	if a.replyConsumer != nil {
		return a.replyConsumer, nil
	}

	rc, err := NewReplyConsumer(a.runCtx, a.qsvc, a.registry, a.cfg.ReplyQueuePrefix, WithReplyErrorHandler(a.errHandler))
	if err != nil {
		return nil, err
	}

	a.replyConsumer = rc

	return rc, nil
}

func (a *Adapter) registerConsumer(c *Consumer) {
	c.Start(a.runCtx)

	a.consumersMu.Lock()
	a.consumers = append(a.consumers, c)
	a.consumersMu.Unlock()
}

func (a *Adapter) consumerOptions(o processorOptions) []ConsumerOption {
	opts := []ConsumerOption{WithPool(a.pool), WithReporter(a.reporter), WithErrorHandler(a.errHandler)}
	if o.readTimeout > 0 {
		opts = append(opts, WithReadTimeout(o.readTimeout))
	} else {
		opts = append(opts, WithReadTimeout(a.cfg.AWSSQSReadTimeout))
	}

	return opts
}

func (a *Adapter) applyOptions(opts []SendOption) sendOptions {
	o := sendOptions{headers: Headers{}}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func applyProcessorOptions(opts []ProcessorOption) processorOptions {
	var o processorOptions
	for _, opt := range opts {
		opt(&o)
	}

	return o
}
