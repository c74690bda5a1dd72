package booking

import (
	"strings"
	"testing"
)

func TestConversationIDIsDeterministic(t *testing.T) {
	a := ConversationID("bk_1", "456", "789")
	b := ConversationID("bk_1", "456", "789")
	if a != b {
		t.Fatalf("same inputs must derive the same id: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "conv_") {
		t.Fatalf("expected conv_ prefix, got %s", a)
	}
	if len(a) != len("conv_")+32 {
		t.Fatalf("expected 32 hex chars after the prefix, got %s", a)
	}
}

func TestConversationIDOrderNormalized(t *testing.T) {
	a := ConversationID("bk_1", "456", "789")
	b := ConversationID("bk_1", "789", "456")
	if a != b {
		t.Fatalf("participant order must not matter: %s vs %s", a, b)
	}
}

func TestConversationIDVariesByBookingAndParticipants(t *testing.T) {
	base := ConversationID("bk_1", "456", "789")
	if ConversationID("bk_2", "456", "789") == base {
		t.Fatalf("different bookings must derive different ids")
	}
	if ConversationID("bk_1", "456", "790") == base {
		t.Fatalf("different participants must derive different ids")
	}
}

func TestConversationIDTrimsWhitespace(t *testing.T) {
	a := ConversationID(" bk_1 ", " 456", "789 ")
	b := ConversationID("bk_1", "456", "789")
	if a != b {
		t.Fatalf("whitespace must not change the derived id")
	}
}
