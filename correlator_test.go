package relaymq_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymq/adapter"
)

func newTestReplyConsumer(t *testing.T, qsvc *QSVCClientMock) *relaymq.ReplyConsumer {
	t.Helper()

	if qsvc.CreateQueueFunc == nil {
		qsvc.CreateQueueFunc = func(ctx context.Context, fqn string, attrs relaymq.QueueAttributes) error { return nil }
	}
	if qsvc.GetQueueURLFunc == nil {
		qsvc.GetQueueURLFunc = func(ctx context.Context, fqn, ownerAccountID string) (string, error) {
			return "https://qsvc.example/" + fqn, nil
		}
	}
	if qsvc.ReceiveMessageFunc == nil {
		qsvc.ReceiveMessageFunc = func(ctx context.Context, queueURL string, waitTime time.Duration) (*relaymq.InboundMessage, error) {
			time.Sleep(time.Millisecond)

			return nil, nil
		}
	}
	if qsvc.DeleteMessageFunc == nil {
		qsvc.DeleteMessageFunc = func(ctx context.Context, queueURL, receiptHandle string) error { return nil }
	}
	if qsvc.DeleteQueueFunc == nil {
		qsvc.DeleteQueueFunc = func(ctx context.Context, queueURL string) error { return nil }
	}

	r := relaymq.NewRegistry(qsvc, &TSVCClientMock{}, "", "", nil)

	rc, err := relaymq.NewReplyConsumer(context.Background(), qsvc, r, "reply-")
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = rc.Stop(ctx)
	})

	return rc
}

func TestReplyConsumer_DispatchDeliversToWaiter(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var pushed *relaymq.InboundMessage

	qsvc := &QSVCClientMock{
		ReceiveMessageFunc: func(ctx context.Context, queueURL string, waitTime time.Duration) (*relaymq.InboundMessage, error) {
			mu.Lock()
			m := pushed
			pushed = nil
			mu.Unlock()

			if m != nil {
				return m, nil
			}

			time.Sleep(time.Millisecond)

			return nil, nil
		},
	}

	rc := newTestReplyConsumer(t, qsvc)

	q := rc.RegisterRequestID("req-1")

	mu.Lock()
	pushed = &relaymq.InboundMessage{
		ReceiptHandle: "rh",
		Payload:       []byte(`{"ok":true}`),
		Headers:       relaymq.Headers{relaymq.HeaderRequestID: "req-1"},
	}
	mu.Unlock()

	msg, err := q.Pop(true, nil)
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, string(msg.Payload()))
}

func TestReplyConsumer_RegisterRequestID_SetIfAbsent(t *testing.T) {
	t.Parallel()

	rc := newTestReplyConsumer(t, &QSVCClientMock{})

	q1 := rc.RegisterRequestID("dup")
	q2 := rc.RegisterRequestID("dup")
	require.Same(t, q1, q2)
}

func TestReplyConsumer_UnknownRequestIDDroppedSilently(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var pushed *relaymq.InboundMessage
	errored := make(chan struct{}, 1)

	qsvc := &QSVCClientMock{
		ReceiveMessageFunc: func(ctx context.Context, queueURL string, waitTime time.Duration) (*relaymq.InboundMessage, error) {
			mu.Lock()
			m := pushed
			pushed = nil
			mu.Unlock()

			if m != nil {
				return m, nil
			}

			time.Sleep(time.Millisecond)

			return nil, nil
		},
		DeleteMessageFunc: func(ctx context.Context, queueURL, receiptHandle string) error {
			errored <- struct{}{}

			return nil
		},
	}

	rc := newTestReplyConsumer(t, qsvc)

	mu.Lock()
	pushed = &relaymq.InboundMessage{
		ReceiptHandle: "rh",
		Payload:       []byte(`{}`),
		Headers:       relaymq.Headers{relaymq.HeaderRequestID: "nobody-waiting"},
	}
	mu.Unlock()

	select {
	case <-errored:
	case <-time.After(time.Second):
		t.Fatal("unmatched reply was never ACKed/dropped")
	}
}

func TestReplyConsumer_Forget(t *testing.T) {
	t.Parallel()

	rc := newTestReplyConsumer(t, &QSVCClientMock{})

	q := rc.RegisterRequestID("timed-out")
	rc.Forget("timed-out")

	q2 := rc.RegisterRequestID("timed-out")
	require.NotSame(t, q, q2, "Forget must let a fresh registration replace the old slot")
}
