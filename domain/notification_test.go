package domain

import "testing"

func TestDeliveryIDDeterministic(t *testing.T) {
	a := DeliveryID("ev1", "u1", ChannelEmail)
	b := DeliveryID("ev1", "u1", ChannelEmail)
	if a != b {
		t.Fatal("same inputs must hash to the same delivery id")
	}
	if a == DeliveryID("ev1", "u1", ChannelPush) {
		t.Fatal("channel must contribute to the delivery id")
	}
	if a == DeliveryID("ev1", "u2", ChannelEmail) {
		t.Fatal("recipient must contribute to the delivery id")
	}
	if a == DeliveryID("ev2", "u1", ChannelEmail) {
		t.Fatal("event id must contribute to the delivery id")
	}
}

func TestDeliveryIDSeparatesFields(t *testing.T) {
	// Field boundaries are delimited, so shifting bytes between event id
	// and recipient must not collide.
	if DeliveryID("ab", "c", ChannelPush) == DeliveryID("a", "bc", ChannelPush) {
		t.Fatal("field boundary collision")
	}
}

func TestEffectiveChannelsGlobalFlags(t *testing.T) {
	p := Preference{UserID: "u1", Channels: ChannelFlags{Email: true, InApp: true}}
	got := p.EffectiveChannels(EventTaskAssigned)
	want := []Channel{ChannelEmail, ChannelInApp}
	if len(got) != len(want) {
		t.Fatalf("channels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("channels = %v, want %v", got, want)
		}
	}
}

func TestEffectiveChannelsOverrideAndsWithGlobal(t *testing.T) {
	p := Preference{
		UserID:   "u1",
		Channels: ChannelFlags{Email: true, Push: false, InApp: true},
		Overrides: map[EventKind]ChannelFlags{
			EventTaskCommented: {Email: false, Push: true, InApp: true},
		},
	}
	got := p.EffectiveChannels(EventTaskCommented)
	// Push is overridden on but globally off; email is globally on but
	// overridden off. Only in-app survives the AND.
	if len(got) != 1 || got[0] != ChannelInApp {
		t.Fatalf("channels = %v, want [inapp]", got)
	}

	// Kinds without an override follow the global flags.
	got = p.EffectiveChannels(EventTaskUpdated)
	if len(got) != 2 || got[0] != ChannelEmail || got[1] != ChannelInApp {
		t.Fatalf("channels = %v, want [email inapp]", got)
	}
}

func TestDefaultPreferenceEnablesEverything(t *testing.T) {
	p := DefaultPreference("u9")
	if got := p.EffectiveChannels(EventTaskCreated); len(got) != len(AllChannels) {
		t.Fatalf("default preference channels = %v", got)
	}
}
