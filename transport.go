package relaymq

import (
	"context"
	"errors"
	"time"
)

//go:generate go tool moq -pkg relaymq_test -stub -out transport_mock_test.go . QSVCClient TSVCClient

// ErrQueueNotFound is returned by QSVCClient.GetQueueURL when no queue
// exists under the given FQN. The Name Registry treats this as a plain
// cache-miss; any other error is wrapped as a ConnectionError.
var ErrQueueNotFound = errors.New("qsvc: queue not found")

// ErrTopicNotFound is returned by TSVCClient.FindTopicARN when no topic
// exists under the given FQN.
var ErrTopicNotFound = errors.New("tsvc: topic not found")

// QueueAttributes carries the subset of queue/topic creation attributes
// the adapter cares about (spec.md §6).
type QueueAttributes struct {
	// KMSMasterKeyID, when set, enables server-side encryption at rest.
	KMSMasterKeyID string
}

// InboundMessage is one message received off a QSVC queue.
type InboundMessage struct {
	// MessageID is the backend-assigned message identifier, distinct from
	// the receipt handle: it stays stable across redeliveries while the
	// receipt handle changes on every delivery attempt.
	MessageID     string
	ReceiptHandle string
	Headers       Headers
	Payload       []byte
}

// QSVCClient is the point-to-point queue service collaborator: long-poll
// receive, receipt handles, visibility timeout, explicit ACK via delete.
// Concrete backends live under transport/.
type QSVCClient interface {
	// CreateQueue creates a queue named fqn, idempotently.
	CreateQueue(ctx context.Context, fqn string, attrs QueueAttributes) error
	// GetQueueURL resolves fqn to a queue URL, optionally on behalf of
	// ownerAccountID (cross-account lookup). It returns ErrQueueNotFound
	// if no such queue exists.
	GetQueueURL(ctx context.Context, fqn, ownerAccountID string) (string, error)
	// GetQueueARN returns the ARN of the queue at queueURL, required to
	// subscribe it to a topic.
	GetQueueARN(ctx context.Context, queueURL string) (string, error)
	// DeleteQueue deletes the queue at queueURL.
	DeleteQueue(ctx context.Context, queueURL string) error
	// ReceiveMessage long-polls up to waitTime for a single message. It
	// returns (nil, nil) on long-poll expiry with no message available.
	ReceiveMessage(ctx context.Context, queueURL string, waitTime time.Duration) (*InboundMessage, error)
	// SendMessage sends body and headers as a single message.
	SendMessage(ctx context.Context, queueURL string, body []byte, headers Headers) error
	// DeleteMessage ACKs a message by receipt handle.
	DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error
	// ChangeMessageVisibility NACKs a message by resetting its visibility
	// timeout so it becomes available for redelivery.
	ChangeMessageVisibility(ctx context.Context, queueURL, receiptHandle string, visibilityTimeout time.Duration) error
}

// TSVCClient is the topic fan-out service collaborator: publish and
// subscribe. Concrete backends live under transport/.
type TSVCClient interface {
	// CreateTopic creates a topic named fqn, idempotently.
	CreateTopic(ctx context.Context, fqn string, attrs QueueAttributes) error
	// FindTopicARN resolves fqn to a topic ARN via whatever listing
	// mechanism the backend offers. It returns ErrTopicNotFound if no
	// such topic exists.
	FindTopicARN(ctx context.Context, fqn string) (string, error)
	// Publish publishes body and headers to the topic at topicARN.
	Publish(ctx context.Context, topicARN string, body []byte, headers Headers) error
	// Subscribe subscribes the queue at queueARN to the topic at
	// topicARN with raw message delivery, so the body and headers reach
	// QSVC intact rather than JSON-wrapped.
	Subscribe(ctx context.Context, topicARN, queueARN string) error
}
