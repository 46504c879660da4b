package relaymq_test

import (
	"context"
	"sync"
	"time"

	"github.com/relaymq/adapter"
)

// QSVCClientMock and TSVCClientMock are hand-written moq-style stubs (see
// the //go:generate directive on transport.go): a Func field per method,
// plus a mutex-protected Calls() recorder, so tests can both script
// behaviour and assert on what was called.

type qsvcGetQueueURLCall struct {
	FQN            string
	OwnerAccountID string
}

// QSVCClientMock implements relaymq.QSVCClient.
type QSVCClientMock struct {
	CreateQueueFunc             func(ctx context.Context, fqn string, attrs relaymq.QueueAttributes) error
	GetQueueURLFunc             func(ctx context.Context, fqn, ownerAccountID string) (string, error)
	GetQueueARNFunc             func(ctx context.Context, queueURL string) (string, error)
	DeleteQueueFunc             func(ctx context.Context, queueURL string) error
	ReceiveMessageFunc          func(ctx context.Context, queueURL string, waitTime time.Duration) (*relaymq.InboundMessage, error)
	SendMessageFunc             func(ctx context.Context, queueURL string, body []byte, headers relaymq.Headers) error
	DeleteMessageFunc           func(ctx context.Context, queueURL, receiptHandle string) error
	ChangeMessageVisibilityFunc func(ctx context.Context, queueURL, receiptHandle string, visibilityTimeout time.Duration) error

	mu                 sync.Mutex
	getQueueURLCalls   []qsvcGetQueueURLCall
	sendMessageCalls   int
	deleteMessageCalls int
	changeVisCalls     int
}

var _ relaymq.QSVCClient = (*QSVCClientMock)(nil)

func (m *QSVCClientMock) CreateQueue(ctx context.Context, fqn string, attrs relaymq.QueueAttributes) error {
	return m.CreateQueueFunc(ctx, fqn, attrs)
}

func (m *QSVCClientMock) GetQueueURL(ctx context.Context, fqn, ownerAccountID string) (string, error) {
	m.mu.Lock()
	m.getQueueURLCalls = append(m.getQueueURLCalls, qsvcGetQueueURLCall{FQN: fqn, OwnerAccountID: ownerAccountID})
	m.mu.Unlock()

	return m.GetQueueURLFunc(ctx, fqn, ownerAccountID)
}

func (m *QSVCClientMock) GetQueueURLCalls() []qsvcGetQueueURLCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]qsvcGetQueueURLCall(nil), m.getQueueURLCalls...)
}

func (m *QSVCClientMock) GetQueueARN(ctx context.Context, queueURL string) (string, error) {
	return m.GetQueueARNFunc(ctx, queueURL)
}

func (m *QSVCClientMock) DeleteQueue(ctx context.Context, queueURL string) error {
	return m.DeleteQueueFunc(ctx, queueURL)
}

func (m *QSVCClientMock) ReceiveMessage(ctx context.Context, queueURL string, waitTime time.Duration) (*relaymq.InboundMessage, error) {
	return m.ReceiveMessageFunc(ctx, queueURL, waitTime)
}

func (m *QSVCClientMock) SendMessage(ctx context.Context, queueURL string, body []byte, headers relaymq.Headers) error {
	m.mu.Lock()
	m.sendMessageCalls++
	m.mu.Unlock()

	return m.SendMessageFunc(ctx, queueURL, body, headers)
}

func (m *QSVCClientMock) SendMessageCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sendMessageCalls
}

func (m *QSVCClientMock) DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error {
	m.mu.Lock()
	m.deleteMessageCalls++
	m.mu.Unlock()

	return m.DeleteMessageFunc(ctx, queueURL, receiptHandle)
}

func (m *QSVCClientMock) DeleteMessageCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.deleteMessageCalls
}

func (m *QSVCClientMock) ChangeMessageVisibility(ctx context.Context, queueURL, receiptHandle string, visibilityTimeout time.Duration) error {
	m.mu.Lock()
	m.changeVisCalls++
	m.mu.Unlock()

	return m.ChangeMessageVisibilityFunc(ctx, queueURL, receiptHandle, visibilityTimeout)
}

func (m *QSVCClientMock) ChangeMessageVisibilityCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.changeVisCalls
}

// TSVCClientMock implements relaymq.TSVCClient.
type TSVCClientMock struct {
	CreateTopicFunc  func(ctx context.Context, fqn string, attrs relaymq.QueueAttributes) error
	FindTopicARNFunc func(ctx context.Context, fqn string) (string, error)
	PublishFunc      func(ctx context.Context, topicARN string, body []byte, headers relaymq.Headers) error
	SubscribeFunc    func(ctx context.Context, topicARN, queueARN string) error

	mu           sync.Mutex
	publishCalls int
}

var _ relaymq.TSVCClient = (*TSVCClientMock)(nil)

func (m *TSVCClientMock) CreateTopic(ctx context.Context, fqn string, attrs relaymq.QueueAttributes) error {
	return m.CreateTopicFunc(ctx, fqn, attrs)
}

func (m *TSVCClientMock) FindTopicARN(ctx context.Context, fqn string) (string, error) {
	return m.FindTopicARNFunc(ctx, fqn)
}

func (m *TSVCClientMock) Publish(ctx context.Context, topicARN string, body []byte, headers relaymq.Headers) error {
	m.mu.Lock()
	m.publishCalls++
	m.mu.Unlock()

	return m.PublishFunc(ctx, topicARN, body, headers)
}

func (m *TSVCClientMock) PublishCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.publishCalls
}

func (m *TSVCClientMock) Subscribe(ctx context.Context, topicARN, queueARN string) error {
	return m.SubscribeFunc(ctx, topicARN, queueARN)
}
