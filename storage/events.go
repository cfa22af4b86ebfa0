package storage

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"trackhub/domain"
)

// PublishEvents sends domain events to the event queue. The queue delivers
// at-least-once; consumers deduplicate on event and delivery ids.
func (s *Storage) PublishEvents(ctx context.Context, events ...domain.Event) error {
	for _, ev := range events {
		data, err := sonic.Marshal(ev)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
		_, err = s.eventQueue.EnqueueMessage(ctx, string(data), nil)
		cancel()
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

// QueueMessage is one raw message pulled from the event queue, with the
// receipt needed to delete it after processing.
type QueueMessage struct {
	Event      domain.Event
	MessageID  string
	PopReceipt string
	Malformed  bool
}

// DequeueEvents pulls up to max messages from the event queue, leaving them
// invisible for the given timeout. Messages that fail to decode come back
// with Malformed set so the caller can log and discard them.
func (s *Storage) DequeueEvents(ctx context.Context, max int32, visibility int32) ([]QueueMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	resp, err := s.eventQueue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &max,
		VisibilityTimeout: &visibility,
	})
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]QueueMessage, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		if msg.MessageID == nil || msg.PopReceipt == nil || msg.MessageText == nil {
			continue
		}
		qm := QueueMessage{MessageID: *msg.MessageID, PopReceipt: *msg.PopReceipt}
		if err := sonic.UnmarshalString(*msg.MessageText, &qm.Event); err != nil {
			qm.Malformed = true
		}
		out = append(out, qm)
	}
	return out, nil
}

// QueueDepth reports the approximate number of messages waiting on the
// event queue.
func (s *Storage) QueueDepth(ctx context.Context) (int32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	resp, err := s.eventQueue.GetProperties(ctx, nil)
	if err != nil {
		return 0, mapError(err)
	}
	if resp.ApproximateMessagesCount == nil {
		return 0, nil
	}
	return *resp.ApproximateMessagesCount, nil
}

// DeleteEvent acknowledges a processed message so the queue stops
// redelivering it.
func (s *Storage) DeleteEvent(ctx context.Context, msg QueueMessage) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if _, err := s.eventQueue.DeleteMessage(ctx, msg.MessageID, msg.PopReceipt, nil); err != nil {
		return mapError(err)
	}
	return nil
}
