package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "inapp"
)

// AllChannels lists every delivery channel in a stable order.
var AllChannels = []Channel{ChannelEmail, ChannelPush, ChannelInApp}

// DeliveryID derives the idempotency key for one delivery attempt. The same
// (event, recipient, channel) triple always hashes to the same id, so a
// redelivered event cannot produce a second observable effect.
func DeliveryID(eventID, recipientID string, ch Channel) string {
	h := sha256.New()
	h.Write([]byte(eventID))
	h.Write([]byte{0})
	h.Write([]byte(recipientID))
	h.Write([]byte{0})
	h.Write([]byte(ch))
	return hex.EncodeToString(h.Sum(nil))
}

// Notification is an in-app notification row. Rows are created by the
// dispatcher and mutated only by the recipient (the read flag).
type Notification struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Kind       EventKind  `json:"kind"`
	Content    string     `json:"content"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	DeliveryID string     `json:"deliveryId"`
	Read       bool       `json:"read"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// ChannelFlags is a per-channel enable set.
type ChannelFlags struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
	InApp bool `json:"inapp"`
}

// Enabled reports whether ch is switched on in the flag set.
func (f ChannelFlags) Enabled(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return f.Email
	case ChannelPush:
		return f.Push
	case ChannelInApp:
		return f.InApp
	}
	return false
}

// Preference is a user's notification configuration: global per-channel
// flags plus optional per-event-kind overrides. The effective channel set
// for a kind is the global flags ANDed with the override when one exists.
type Preference struct {
	UserID    string                     `json:"userId"`
	Channels  ChannelFlags               `json:"channels"`
	Overrides map[EventKind]ChannelFlags `json:"overrides,omitempty"`
}

// DefaultPreference is used when a user has never stored a preference:
// every channel enabled, no overrides.
func DefaultPreference(userID string) Preference {
	return Preference{
		UserID:   userID,
		Channels: ChannelFlags{Email: true, Push: true, InApp: true},
	}
}

// EffectiveChannels returns the channels a notification of the given kind
// should be delivered on for this preference.
func (p Preference) EffectiveChannels(kind EventKind) []Channel {
	out := make([]Channel, 0, len(AllChannels))
	override, hasOverride := p.Overrides[kind]
	for _, ch := range AllChannels {
		if !p.Channels.Enabled(ch) {
			continue
		}
		if hasOverride && !override.Enabled(ch) {
			continue
		}
		out = append(out, ch)
	}
	return out
}
