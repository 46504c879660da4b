package relaymq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// sqsSnsAlphabetMap is applied to every FQN after namespacing: QSVC/TSVC
// names disallow '.', so it is substituted with '-'.
var sqsSnsAlphabetMap = strings.NewReplacer(".", "-")

// SQSSnsFQN returns the fully qualified, alphabet-translated name for a
// logical queue/topic name: namespace prefix, then translation. It is
// applied uniformly before every lookup, create or delete, and is
// idempotent when namespace is empty (P7).
func SQSSnsFQN(namespace, name string) string {
	return sqsSnsAlphabetMap.Replace(namespace + name)
}

// NewRegistry returns an empty Registry bound to the given transport
// clients and cross-account mapping. crossAccount maps an original,
// un-namespaced queue name to the AWS account ID that owns it.
func NewRegistry(qsvc QSVCClient, tsvc TSVCClient, namespace, kmsMasterKeyID string, crossAccount map[string]string) *Registry {
	return &Registry{
		qsvc:           qsvc,
		tsvc:           tsvc,
		namespace:      namespace,
		kmsMasterKeyID: kmsMasterKeyID,
		crossAccount:   crossAccount,
		queueURLs:      map[string]string{},
		topicARNs:      map[string]string{},
	}
}

// Registry is the Name Registry: queue name→URL and topic name→ARN
// caches, namespace/alphabet translation, and cross-account resolution.
// Per I1, entries are write-once within a process lifetime; Reset clears
// them on Stop.
type Registry struct {
	qsvc QSVCClient
	tsvc TSVCClient

	namespace      string
	kmsMasterKeyID string
	crossAccount   map[string]string

	mu        sync.Mutex
	queueURLs map[string]string
	topicARNs map[string]string
}

// FQN translates a logical name into this registry's cache key.
func (r *Registry) FQN(name string) string {
	return SQSSnsFQN(r.namespace, name)
}

// QueueURL resolves name to a queue URL, consulting the cache first.
// A NonExistentQueue response is not an error: it is reported via
// ErrQueueNotFound so callers can decide whether to create the queue.
func (r *Registry) QueueURL(ctx context.Context, name string) (string, error) {
	fqn := r.FQN(name)

	r.mu.Lock()
	if url, ok := r.queueURLs[fqn]; ok {
		r.mu.Unlock()

		return url, nil
	}
	r.mu.Unlock()

	// The cross-account mapping is keyed by the original, un-namespaced
	// queue name — not the FQN — matching the mapping's source syntax
	// ("q1:acct1,q2:acct2") given against logical names in config.
	ownerAccountID := r.crossAccount[name]

	url, err := r.qsvc.GetQueueURL(ctx, fqn, ownerAccountID)
	if err != nil {
		if errors.Is(err, ErrQueueNotFound) {
			return "", ErrQueueNotFound
		}

		return "", NewConnectionError("get_queue_url", err)
	}

	r.mu.Lock()
	if existing, ok := r.queueURLs[fqn]; ok {
		url = existing
	} else {
		r.queueURLs[fqn] = url
	}
	r.mu.Unlock()

	return url, nil
}

// TopicARN resolves name to a topic ARN, consulting the cache first.
func (r *Registry) TopicARN(ctx context.Context, name string) (string, error) {
	fqn := r.FQN(name)

	r.mu.Lock()
	if arn, ok := r.topicARNs[fqn]; ok {
		r.mu.Unlock()

		return arn, nil
	}
	r.mu.Unlock()

	arn, err := r.tsvc.FindTopicARN(ctx, fqn)
	if err != nil {
		if errors.Is(err, ErrTopicNotFound) {
			return "", ErrTopicNotFound
		}

		return "", NewConnectionError("find_topic_arn", err)
	}

	r.mu.Lock()
	if existing, ok := r.topicARNs[fqn]; ok {
		arn = existing
	} else {
		r.topicARNs[fqn] = arn
	}
	r.mu.Unlock()

	return arn, nil
}

// CreateQueue creates name (idempotently) and caches its URL.
func (r *Registry) CreateQueue(ctx context.Context, name string) (string, error) {
	fqn := r.FQN(name)

	if err := r.qsvc.CreateQueue(ctx, fqn, QueueAttributes{KMSMasterKeyID: r.kmsMasterKeyID}); err != nil {
		return "", NewConnectionError("create_queue", err)
	}

	url, err := r.qsvc.GetQueueURL(ctx, fqn, "")
	if err != nil {
		return "", NewConnectionError("get_queue_url", err)
	}

	r.mu.Lock()
	if existing, ok := r.queueURLs[fqn]; ok {
		url = existing
	} else {
		r.queueURLs[fqn] = url
	}
	r.mu.Unlock()

	return url, nil
}

// CreateTopic creates name (idempotently) and caches its ARN.
func (r *Registry) CreateTopic(ctx context.Context, name string) (string, error) {
	fqn := r.FQN(name)

	if err := r.tsvc.CreateTopic(ctx, fqn, QueueAttributes{KMSMasterKeyID: r.kmsMasterKeyID}); err != nil {
		return "", NewConnectionError("create_topic", err)
	}

	arn, err := r.tsvc.FindTopicARN(ctx, fqn)
	if err != nil {
		return "", NewConnectionError("find_topic_arn", err)
	}

	r.mu.Lock()
	if existing, ok := r.topicARNs[fqn]; ok {
		arn = existing
	} else {
		r.topicARNs[fqn] = arn
	}
	r.mu.Unlock()

	return arn, nil
}

// EnsureQueue returns the URL for name, creating it first if absent.
func (r *Registry) EnsureQueue(ctx context.Context, name string) (string, error) {
	url, err := r.QueueURL(ctx, name)
	if err == nil {
		return url, nil
	}
	if !errors.Is(err, ErrQueueNotFound) {
		return "", err
	}

	return r.CreateQueue(ctx, name)
}

// EnsureTopic returns the ARN for name, creating it first if absent.
func (r *Registry) EnsureTopic(ctx context.Context, name string) (string, error) {
	arn, err := r.TopicARN(ctx, name)
	if err == nil {
		return arn, nil
	}
	if !errors.Is(err, ErrTopicNotFound) {
		return "", err
	}

	return r.CreateTopic(ctx, name)
}

// Subscribe wires the queue at queueURL to receive fan-out from the topic
// at topicARN with raw message delivery, per §4.5.
func (r *Registry) Subscribe(ctx context.Context, topicARN, queueURL string) error {
	queueARN, err := r.qsvc.GetQueueARN(ctx, queueURL)
	if err != nil {
		return NewConnectionError("get_queue_attributes", err)
	}

	if err := r.tsvc.Subscribe(ctx, topicARN, queueARN); err != nil {
		return NewConnectionError("subscribe", fmt.Errorf("%s -> %s: %w", topicARN, queueURL, err))
	}

	return nil
}

// Reset clears both caches. Called on Stop; per I1 this is the only way
// entries are ever removed within a process lifetime.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queueURLs = map[string]string{}
	r.topicARNs = map[string]string{}
}
