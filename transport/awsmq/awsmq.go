// Package awsmq is the primary transport backend: it wraps aws-sdk-go-v2's
// sqs and sns clients to satisfy relaymq's QSVCClient/TSVCClient
// interfaces one-to-one against the real SQS/SNS operation names.
package awsmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	adapter "github.com/relaymq/adapter"
)

var awsStringDataType = aws.String("String") //nolint:gochecknoglobals // aws constant

//go:generate go tool moq -pkg awsmq_test -stub -out awsmq_mock_test.go . SQSAPI SNSAPI

// SQSAPI is the subset of *sqs.Client the QSVC backend calls. Exists so
// tests can substitute a stub instead of talking to real SQS.
type SQSAPI interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	DeleteQueue(ctx context.Context, params *sqs.DeleteQueueInput, optFns ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SNSAPI is the subset of *sns.Client the TSVC backend calls.
type SNSAPI interface {
	CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	ListTopics(ctx context.Context, params *sns.ListTopicsInput, optFns ...func(*sns.Options)) (*sns.ListTopicsOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
}

// NewQSVC wraps cli as an adapter.QSVCClient.
func NewQSVC(cli SQSAPI) *QSVC { return &QSVC{cli: cli} }

// QSVC implements adapter.QSVCClient against AWS SQS.
type QSVC struct {
	cli SQSAPI
}

// CreateQueue implements adapter.QSVCClient.
func (q *QSVC) CreateQueue(ctx context.Context, fqn string, attrs adapter.QueueAttributes) error {
	in := &sqs.CreateQueueInput{QueueName: aws.String(fqn)}
	if attrs.KMSMasterKeyID != "" {
		in.Attributes = map[string]string{
			string(sqstypes.QueueAttributeNameKmsMasterKeyId): attrs.KMSMasterKeyID,
		}
	}

	if _, err := q.cli.CreateQueue(ctx, in); err != nil {
		return fmt.Errorf("creating queue %s: %w", fqn, err)
	}

	return nil
}

// GetQueueURL implements adapter.QSVCClient.
func (q *QSVC) GetQueueURL(ctx context.Context, fqn, ownerAccountID string) (string, error) {
	in := &sqs.GetQueueUrlInput{QueueName: aws.String(fqn)}
	if ownerAccountID != "" {
		in.QueueOwnerAWSAccountId = aws.String(ownerAccountID)
	}

	out, err := q.cli.GetQueueUrl(ctx, in)
	if err != nil {
		var notFound *sqstypes.QueueDoesNotExist
		if errors.As(err, &notFound) {
			return "", adapter.ErrQueueNotFound
		}

		return "", fmt.Errorf("getting queue url for %s: %w", fqn, err)
	}

	return aws.ToString(out.QueueUrl), nil
}

// GetQueueARN implements adapter.QSVCClient.
func (q *QSVC) GetQueueARN(ctx context.Context, queueURL string) (string, error) {
	out, err := q.cli.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", fmt.Errorf("getting queue attributes for %s: %w", queueURL, err)
	}

	return out.Attributes[string(sqstypes.QueueAttributeNameQueueArn)], nil
}

// DeleteQueue implements adapter.QSVCClient.
func (q *QSVC) DeleteQueue(ctx context.Context, queueURL string) error {
	if _, err := q.cli.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(queueURL)}); err != nil {
		return fmt.Errorf("deleting queue %s: %w", queueURL, err)
	}

	return nil
}

// ReceiveMessage implements adapter.QSVCClient. It long-polls for exactly
// one message with every attribute requested.
func (q *QSVC) ReceiveMessage(
	ctx context.Context,
	queueURL string,
	waitTime time.Duration,
) (*adapter.InboundMessage, error) {
	out, err := q.cli.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(queueURL),
		MaxNumberOfMessages:   1,
		WaitTimeSeconds:       int32(waitTime.Seconds()),
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("receiving from %s: %w", queueURL, err)
	}

	if len(out.Messages) == 0 {
		return nil, nil
	}

	msg := out.Messages[0]

	headers := adapter.Headers{}
	for k, v := range msg.MessageAttributes {
		headers.Set(k, aws.ToString(v.StringValue))
	}

	return &adapter.InboundMessage{
		MessageID:     aws.ToString(msg.MessageId),
		ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		Headers:       headers,
		Payload:       []byte(aws.ToString(msg.Body)),
	}, nil
}

// SendMessage implements adapter.QSVCClient.
func (q *QSVC) SendMessage(ctx context.Context, queueURL string, body []byte, headers adapter.Headers) error {
	att := make(map[string]sqstypes.MessageAttributeValue, len(headers))
	for k, v := range headers {
		att[k] = sqstypes.MessageAttributeValue{DataType: awsStringDataType, StringValue: aws.String(v)}
	}

	_, err := q.cli.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: att,
	})
	if err != nil {
		return fmt.Errorf("sending message to %s: %w", queueURL, err)
	}

	return nil
}

// DeleteMessage implements adapter.QSVCClient.
func (q *QSVC) DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := q.cli.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("deleting message from %s: %w", queueURL, err)
	}

	return nil
}

// ChangeMessageVisibility implements adapter.QSVCClient.
func (q *QSVC) ChangeMessageVisibility(
	ctx context.Context,
	queueURL, receiptHandle string,
	visibilityTimeout time.Duration,
) error {
	_, err := q.cli.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(visibilityTimeout.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("changing visibility on %s: %w", queueURL, err)
	}

	return nil
}

// NewTSVC wraps cli as an adapter.TSVCClient.
func NewTSVC(cli SNSAPI) *TSVC { return &TSVC{cli: cli} }

// TSVC implements adapter.TSVCClient against AWS SNS.
type TSVC struct {
	cli SNSAPI
}

// CreateTopic implements adapter.TSVCClient.
func (t *TSVC) CreateTopic(ctx context.Context, fqn string, attrs adapter.QueueAttributes) error {
	in := &sns.CreateTopicInput{Name: aws.String(fqn)}
	if attrs.KMSMasterKeyID != "" {
		in.Attributes = map[string]string{"KmsMasterKeyId": attrs.KMSMasterKeyID}
	}

	if _, err := t.cli.CreateTopic(ctx, in); err != nil {
		return fmt.Errorf("creating topic %s: %w", fqn, err)
	}

	return nil
}

// FindTopicARN implements adapter.TSVCClient by paginating list_topics and
// matching the FQN against the suffix after the last ':' of each ARN.
func (t *TSVC) FindTopicARN(ctx context.Context, fqn string) (string, error) {
	var nextToken *string

	for {
		out, err := t.cli.ListTopics(ctx, &sns.ListTopicsInput{NextToken: nextToken})
		if err != nil {
			return "", fmt.Errorf("listing topics: %w", err)
		}

		for _, topic := range out.Topics {
			arn := aws.ToString(topic.TopicArn)
			if arnName(arn) == fqn {
				return arn, nil
			}
		}

		if out.NextToken == nil {
			return "", adapter.ErrTopicNotFound
		}

		nextToken = out.NextToken
	}
}

// Publish implements adapter.TSVCClient.
func (t *TSVC) Publish(ctx context.Context, topicARN string, body []byte, headers adapter.Headers) error {
	att := make(map[string]snstypes.MessageAttributeValue, len(headers))
	for k, v := range headers {
		att[k] = snstypes.MessageAttributeValue{DataType: awsStringDataType, StringValue: aws.String(v)}
	}

	_, err := t.cli.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(topicARN),
		Message:           aws.String(string(body)),
		MessageAttributes: att,
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", topicARN, err)
	}

	return nil
}

// Subscribe implements adapter.TSVCClient with raw message delivery, so
// SNS forwards body and attributes to SQS intact rather than JSON-wrapped.
func (t *TSVC) Subscribe(ctx context.Context, topicARN, queueARN string) error {
	_, err := t.cli.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn:   aws.String(topicARN),
		Protocol:   aws.String("sqs"),
		Endpoint:   aws.String(queueARN),
		Attributes: map[string]string{"RawMessageDelivery": "true"},
	})
	if err != nil {
		return fmt.Errorf("subscribing %s to %s: %w", queueARN, topicARN, err)
	}

	return nil
}

// arnName returns the portion of an ARN after its last ':', i.e. the
// resource name.
func arnName(arn string) string {
	for i := len(arn) - 1; i >= 0; i-- {
		if arn[i] == ':' {
			return arn[i+1:]
		}
	}

	return arn
}
