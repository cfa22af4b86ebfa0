package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"trackhub/domain"
)

// Delivery is the atomic unit of dispatch work: one notification for one
// recipient on one channel, identified by a deterministic delivery id.
type Delivery struct {
	ID          string
	RecipientID string
	Channel     domain.Channel
	Kind        domain.EventKind
	Content     string
	EntityType  domain.EntityType
	EntityID    string
}

// Sender pushes one delivery out on its channel. Implementations must be
// safe to call twice with the same delivery id: the second call is a no-op.
type Sender interface {
	Deliver(ctx context.Context, d Delivery) error
}

// NotificationStore is the slice of storage the in-app channel writes to.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
}

// InAppSender materializes deliveries as notification rows. Idempotency
// comes from the store keying rows by delivery id.
type InAppSender struct {
	store NotificationStore
}

// NewInAppSender wires the in-app channel to its notification store.
func NewInAppSender(store NotificationStore) *InAppSender {
	return &InAppSender{store: store}
}

func (s *InAppSender) Deliver(ctx context.Context, d Delivery) error {
	return s.store.InsertNotification(ctx, domain.Notification{
		ID:         uuid.NewString(),
		UserID:     d.RecipientID,
		Kind:       d.Kind,
		Content:    d.Content,
		EntityType: d.EntityType,
		EntityID:   d.EntityID,
		DeliveryID: d.ID,
		CreatedAt:  time.Now().UTC(),
	})
}

// LogSender stands in for an external gateway (email, push) that is not part
// of this deployment. It logs the delivery instead of sending it; the
// dispatcher's claim on the delivery id keeps repeats from logging twice.
type LogSender struct {
	channel domain.Channel
	logger  *log.Logger
}

// NewLogSender creates a logging stand-in for the given channel.
func NewLogSender(channel domain.Channel, logger *log.Logger) *LogSender {
	return &LogSender{channel: channel, logger: logger}
}

func (s *LogSender) Deliver(_ context.Context, d Delivery) error {
	s.logger.WithFields(log.Fields{
		"channel":    string(s.channel),
		"recipient":  d.RecipientID,
		"kind":       string(d.Kind),
		"deliveryId": d.ID,
	}).Info("notification delivered")
	return nil
}
