// Package gcpmq is the secondary transport backend demonstrating that the
// adapter core is transport-agnostic: it maps a GCP topic + pull
// subscription pair onto the QSVC queue operations, and a GCP topic onto
// TSVC, using cloud.google.com/go/pubsub/v2.
package gcpmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	adapter "github.com/relaymq/adapter"
)

// subscriptionSuffix names the pull subscription GCP creates alongside
// every queue's backing topic — QSVC "queue URL" resolution returns this
// subscription's fully qualified resource name.
const subscriptionSuffix = "-queue"

// NewQSVC wraps client as an adapter.QSVCClient: CreateQueue creates a
// topic plus a pull subscription named after it with subscriptionSuffix
// appended; GetQueueURL returns the subscription's resource name used as
// the "URL".
func NewQSVC(client *pubsub.Client, projectID string) *QSVC {
	return &QSVC{client: client, projectID: projectID}
}

// QSVC implements adapter.QSVCClient against a GCP topic/subscription
// pair, standing in for a point-to-point queue.
type QSVC struct {
	client    *pubsub.Client
	projectID string
}

func (q *QSVC) topicPath(fqn string) string {
	return fmt.Sprintf("projects/%s/topics/%s", q.projectID, fqn)
}

func (q *QSVC) subscriptionPath(fqn string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", q.projectID, fqn)
}

// CreateQueue implements adapter.QSVCClient.
func (q *QSVC) CreateQueue(ctx context.Context, fqn string, _ adapter.QueueAttributes) error {
	topicName := q.topicPath(fqn)

	if _, err := q.client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName}); err != nil && !alreadyExists(err) {
		return fmt.Errorf("creating queue topic %s: %w", fqn, err)
	}

	subName := q.subscriptionPath(fqn + subscriptionSuffix)

	_, err := q.client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:  subName,
		Topic: topicName,
	})
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("creating queue subscription %s: %w", fqn, err)
	}

	return nil
}

// GetQueueURL implements adapter.QSVCClient. ownerAccountID (cross-project
// lookup) is accepted for interface symmetry but unused: GCP subscriptions
// are resolved within the configured project.
func (q *QSVC) GetQueueURL(ctx context.Context, fqn, _ string) (string, error) {
	name := q.subscriptionPath(fqn + subscriptionSuffix)

	sub, err := q.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", adapter.ErrQueueNotFound
		}

		return "", fmt.Errorf("resolving queue %s: %w", fqn, err)
	}

	return sub.GetName(), nil
}

// GetQueueARN implements adapter.QSVCClient, returning the resource name
// of the underlying topic so Subscribe can bind fan-out to it.
func (q *QSVC) GetQueueARN(ctx context.Context, queueURL string) (string, error) {
	sub, err := q.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: queueURL})
	if err != nil {
		return "", fmt.Errorf("getting queue topic for %s: %w", queueURL, err)
	}

	return sub.GetTopic(), nil
}

// DeleteQueue implements adapter.QSVCClient, deleting the subscription
// (the backing topic is left in place, mirroring SQS leaving a
// subscribed topic alone when a queue is deleted).
func (q *QSVC) DeleteQueue(ctx context.Context, queueURL string) error {
	err := q.client.SubscriptionAdminClient.DeleteSubscription(ctx, &pubsubpb.DeleteSubscriptionRequest{Subscription: queueURL})
	if err != nil {
		return fmt.Errorf("deleting queue %s: %w", queueURL, err)
	}

	return nil
}

// ReceiveMessage implements adapter.QSVCClient by pulling a single
// message with a bounded wait, acking neither way: ACK/NACK travel
// through DeleteMessage/ChangeMessageVisibility using the message's own
// ack ID as the "receipt handle".
func (q *QSVC) ReceiveMessage(
	ctx context.Context,
	queueURL string,
	waitTime time.Duration,
) (*adapter.InboundMessage, error) {
	pullCtx, cancel := context.WithTimeout(ctx, waitTime)
	defer cancel()

	sub := q.client.Subscriber(queueURL)

	var result *adapter.InboundMessage

	err := sub.Receive(pullCtx, func(_ context.Context, msg *pubsub.Message) {
		headers := adapter.Headers{}
		for k, v := range msg.Attributes {
			headers.Set(k, v)
		}

		result = &adapter.InboundMessage{
			MessageID:     msg.ID,
			ReceiptHandle: msg.AckID,
			Headers:       headers,
			Payload:       msg.Data,
		}

		cancel()
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("receiving from %s: %w", queueURL, err)
	}

	return result, nil
}

// SendMessage implements adapter.QSVCClient by publishing directly to the
// queue's backing topic.
func (q *QSVC) SendMessage(ctx context.Context, queueURL string, body []byte, headers adapter.Headers) error {
	topicName, err := q.GetQueueARN(ctx, queueURL)
	if err != nil {
		return err
	}

	pub := q.client.Publisher(topicName)

	if _, err := pub.Publish(ctx, &pubsub.Message{Data: body, Attributes: headers}).Get(ctx); err != nil {
		return fmt.Errorf("sending message to %s: %w", queueURL, err)
	}

	return nil
}

// DeleteMessage implements adapter.QSVCClient as a pubsub Ack.
func (q *QSVC) DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error {
	return q.client.SubscriptionAdminClient.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: queueURL,
		AckIds:       []string{receiptHandle},
	})
}

// ChangeMessageVisibility implements adapter.QSVCClient as a pubsub
// ModifyAckDeadline, the closest GCP analogue of resetting SQS visibility.
func (q *QSVC) ChangeMessageVisibility(
	ctx context.Context,
	queueURL, receiptHandle string,
	visibilityTimeout time.Duration,
) error {
	return q.client.SubscriptionAdminClient.ModifyAckDeadline(ctx, &pubsubpb.ModifyAckDeadlineRequest{
		Subscription:       queueURL,
		AckIds:             []string{receiptHandle},
		AckDeadlineSeconds: int32(visibilityTimeout.Seconds()),
	})
}

// NewTSVC wraps client as an adapter.TSVCClient over GCP topics.
func NewTSVC(client *pubsub.Client, projectID string) *TSVC {
	return &TSVC{client: client, projectID: projectID}
}

// TSVC implements adapter.TSVCClient against a GCP topic, the closest
// analogue of an SNS topic.
type TSVC struct {
	client    *pubsub.Client
	projectID string
}

func (t *TSVC) topicPath(fqn string) string {
	return fmt.Sprintf("projects/%s/topics/%s", t.projectID, fqn)
}

// CreateTopic implements adapter.TSVCClient.
func (t *TSVC) CreateTopic(ctx context.Context, fqn string, _ adapter.QueueAttributes) error {
	_, err := t.client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: t.topicPath(fqn)})
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("creating topic %s: %w", fqn, err)
	}

	return nil
}

// FindTopicARN implements adapter.TSVCClient by listing project topics
// and matching on name suffix, the GCP analogue of SNS's paginated
// list_topics scan.
func (t *TSVC) FindTopicARN(ctx context.Context, fqn string) (string, error) {
	want := t.topicPath(fqn)

	it := t.client.TopicAdminClient.ListTopics(ctx, &pubsubpb.ListTopicsRequest{
		Project: fmt.Sprintf("projects/%s", t.projectID),
	})

	for {
		topic, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return "", adapter.ErrTopicNotFound
		}
		if err != nil {
			return "", fmt.Errorf("listing topics: %w", err)
		}

		if topic.GetName() == want {
			return topic.GetName(), nil
		}
	}
}

// Publish implements adapter.TSVCClient.
func (t *TSVC) Publish(ctx context.Context, topicARN string, body []byte, headers adapter.Headers) error {
	pub := t.client.Publisher(topicARN)

	if _, err := pub.Publish(ctx, &pubsub.Message{Data: body, Attributes: headers}).Get(ctx); err != nil {
		return fmt.Errorf("publishing to %s: %w", topicARN, err)
	}

	return nil
}

// Subscribe implements adapter.TSVCClient by creating a GCP subscription
// on topicARN bound to queueARN's backing topic name — the closest GCP
// analogue of raw-delivery SNS→SQS fan-out, since a GCP subscription
// delivers attributes and data untouched by construction.
func (t *TSVC) Subscribe(ctx context.Context, topicARN, queueARN string) error {
	_, err := t.client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:  queueARN,
		Topic: topicARN,
	})
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("subscribing %s to %s: %w", queueARN, topicARN, err)
	}

	return nil
}

func alreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}
