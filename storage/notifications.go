package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"trackhub/domain"
)

// notificationEntity keys rows by (recipient, delivery id). Using the
// delivery id as row key makes the insert naturally idempotent: the second
// write of the same delivery collides and is treated as already done.
type notificationEntity struct {
	aztables.Entity
	Read bool   `json:"Read"`
	Data string `json:"Data"`
}

func marshalNotification(n domain.Notification) ([]byte, error) {
	doc, err := sonic.Marshal(n)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(notificationEntity{
		Entity: aztables.Entity{PartitionKey: n.UserID, RowKey: n.DeliveryID},
		Read:   n.Read,
		Data:   string(doc),
	})
}

func unmarshalNotification(raw []byte) (domain.Notification, error) {
	var ent notificationEntity
	if err := sonic.Unmarshal(raw, &ent); err != nil {
		return domain.Notification{}, err
	}
	var n domain.Notification
	if err := sonic.UnmarshalString(ent.Data, &n); err != nil {
		return domain.Notification{}, err
	}
	n.Read = ent.Read
	return n, nil
}

// InsertNotification stores an in-app notification row. Re-inserting the
// same delivery id is a no-op so redelivered events cannot duplicate rows.
func (s *Storage) InsertNotification(ctx context.Context, n domain.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	payload, err := marshalNotification(n)
	if err != nil {
		return err
	}
	if _, err := s.notifications.AddEntity(ctx, payload, nil); err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, domain.ErrDuplicateKey) {
			return nil
		}
		return mapped
	}
	return nil
}

// ListNotifications returns all notifications for a user. unreadOnly
// restricts the listing to rows the user has not read yet.
func (s *Storage) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	filter := fmt.Sprintf("PartitionKey eq '%s'", sanitizeFilterValue(userID))
	if unreadOnly {
		filter += " and Read eq false"
	}
	pager := s.notifications.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []domain.Notification{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, raw := range resp.Entities {
			n, err := unmarshalNotification(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
	}
	return out, nil
}

// MarkNotificationRead flips the read flag of one notification owned by
// userID. The id here is the notification id, not the delivery id.
func (s *Storage) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	all, err := s.ListNotifications(ctx, userID, false)
	if err != nil {
		return err
	}
	for _, n := range all {
		if n.ID != notificationID {
			continue
		}
		n.Read = true
		return s.upsertNotification(ctx, n)
	}
	return domain.ErrNotFound
}

// MarkAllNotificationsRead flips the read flag on every unread row of a user.
func (s *Storage) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	unread, err := s.ListNotifications(ctx, userID, true)
	if err != nil {
		return err
	}
	for _, n := range unread {
		n.Read = true
		if err := s.upsertNotification(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) upsertNotification(ctx context.Context, n domain.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	payload, err := marshalNotification(n)
	if err != nil {
		return err
	}
	if _, err := s.notifications.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{
		UpdateMode: aztables.UpdateModeReplace,
	}); err != nil {
		return mapError(err)
	}
	return nil
}

type preferenceEntity struct {
	aztables.Entity
	Data string `json:"Data"`
}

// GetPreference loads a user's notification preference. A user who never
// stored one gets the default (all channels on).
func (s *Storage) GetPreference(ctx context.Context, userID string) (domain.Preference, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	resp, err := s.preferences.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, domain.ErrNotFound) {
			return domain.DefaultPreference(userID), nil
		}
		return domain.Preference{}, mapped
	}
	var ent preferenceEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Preference{}, err
	}
	var p domain.Preference
	if err := sonic.UnmarshalString(ent.Data, &p); err != nil {
		return domain.Preference{}, err
	}
	return p, nil
}

// PutPreference stores a user's notification preference, replacing any
// previous value.
func (s *Storage) PutPreference(ctx context.Context, p domain.Preference) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	doc, err := sonic.Marshal(p)
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(preferenceEntity{
		Entity: aztables.Entity{PartitionKey: p.UserID, RowKey: p.UserID},
		Data:   string(doc),
	})
	if err != nil {
		return err
	}
	if _, err := s.preferences.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{
		UpdateMode: aztables.UpdateModeReplace,
	}); err != nil {
		return mapError(err)
	}
	return nil
}
