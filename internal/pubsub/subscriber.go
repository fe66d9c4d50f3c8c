package pubsub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"order-consumer/internal/queue"

	vkit "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// SubscriberAPI is the subset of the Pub/Sub subscriber client used here.
type SubscriberAPI interface {
	Pull(ctx context.Context, req *pubsubpb.PullRequest, opts ...gax.CallOption) (*pubsubpb.PullResponse, error)
	Acknowledge(ctx context.Context, req *pubsubpb.AcknowledgeRequest, opts ...gax.CallOption) error
}

// NewSubscriberClient dials the Pub/Sub subscriber API, or the emulator when
// PUBSUB_EMULATOR_HOST is set.
func NewSubscriberClient(ctx context.Context) (*vkit.SubscriberClient, error) {
	var opts []option.ClientOption
	if host := os.Getenv("PUBSUB_EMULATOR_HOST"); host != "" {
		opts = append(opts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := vkit.NewSubscriberClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub subscriber client: %w", err)
	}
	return client, nil
}

// Queue drains a Pub/Sub subscription with synchronous pulls. Ack ids are the
// receipt handles and the subscription's ack deadline is the visibility
// timeout. Sends go to topic.
type Queue struct {
	sub          SubscriberAPI
	pub          Publisher
	subscription string
	topic        string
}

func NewQueue(sub SubscriberAPI, pub Publisher, projectID, subscription, topic string) *Queue {
	return &Queue{
		sub:          sub,
		pub:          pub,
		subscription: fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subscription),
		topic:        topic,
	}
}

// Receive pulls up to maxMessages. The pull is bounded by wait; running out of
// time with nothing to deliver is an empty poll, not an error.
func (q *Queue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]queue.Message, error) {
	if wait <= 0 {
		wait = queue.DefaultWaitTime
	}
	pullCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	resp, err := q.sub.Pull(pullCtx, &pubsubpb.PullRequest{
		Subscription: q.subscription,
		MaxMessages:  int32(queue.ClampBatch(maxMessages)),
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(pullCtx.Err(), context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("pubsub pull failed (%s): %w", status.Code(err), err)
	}

	msgs := make([]queue.Message, 0, len(resp.GetReceivedMessages()))
	for _, rm := range resp.GetReceivedMessages() {
		m := rm.GetMessage()
		msgs = append(msgs, queue.Message{
			ID:            m.GetMessageId(),
			ReceiptHandle: rm.GetAckId(),
			Body:          m.GetData(),
			Attributes:    m.GetAttributes(),
			// Only populated when the subscription has a dead-letter policy.
			ReceiveCount: int(rm.GetDeliveryAttempt()),
		})
	}
	return msgs, nil
}

// Delete acknowledges a message. Rejected ack ids yield ErrReceiptHandleInvalid.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	err := q.sub.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: q.subscription,
		AckIds:       []string{receiptHandle},
	})
	if err != nil {
		switch status.Code(err) {
		case codes.InvalidArgument, codes.FailedPrecondition:
			return fmt.Errorf("%w: %v", queue.ErrReceiptHandleInvalid, err)
		}
		return fmt.Errorf("pubsub acknowledge failed: %w", err)
	}
	return nil
}

// Send publishes body with attrs to the configured topic.
func (q *Queue) Send(ctx context.Context, body []byte, attrs map[string]string) (string, error) {
	if q.topic == "" || q.pub == nil {
		return "", errors.New("pubsub queue has no topic to publish to")
	}
	return q.pub.Publish(ctx, q.topic, body, attrs)
}
