package store

import (
	"context"
	"testing"

	"github.com/dukerupert/pocketmoney/internal/model"
)

func newTestSubscription(accountID int64, endpoint, key string) *model.PushSubscription {
	return &model.PushSubscription{
		AccountID:  accountID,
		Endpoint:   endpoint,
		P256dhKey:  key,
		AuthKey:    "auth",
		DeviceName: "Phone",
		CreatedAt:  testNow,
	}
}

func TestPushSubscriptionUpsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := createTestAccount(t, s, "Maya")

	sub := newTestSubscription(a.ID, "https://push.example.com/abc", "key1")
	if err := s.CreatePushSubscription(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if sub.ID == 0 {
		t.Fatal("expected non-zero ID")
	}
	firstID := sub.ID

	// Re-subscribing the same endpoint refreshes keys in place.
	again := newTestSubscription(a.ID, "https://push.example.com/abc", "key2")
	if err := s.CreatePushSubscription(ctx, again); err != nil {
		t.Fatalf("re-create subscription: %v", err)
	}
	if again.ID != firstID {
		t.Errorf("id = %d, want %d", again.ID, firstID)
	}
	if again.P256dhKey != "key2" {
		t.Errorf("p256dh = %q, want key2", again.P256dhKey)
	}

	subs, err := s.ListPushSubscriptions(ctx, a.ID)
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 {
		t.Errorf("expected 1 subscription, got %d", len(subs))
	}
}

func TestPushSubscriptionDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := createTestAccount(t, s, "Maya")

	one := newTestSubscription(a.ID, "https://push.example.com/1", "k")
	two := newTestSubscription(a.ID, "https://push.example.com/2", "k")
	for _, sub := range []*model.PushSubscription{one, two} {
		if err := s.CreatePushSubscription(ctx, sub); err != nil {
			t.Fatalf("create subscription: %v", err)
		}
	}

	if err := s.DeletePushSubscription(ctx, one.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeletePushSubscriptionByEndpoint(ctx, two.Endpoint); err != nil {
		t.Fatalf("delete by endpoint: %v", err)
	}

	subs, _ := s.ListPushSubscriptions(ctx, a.ID)
	if len(subs) != 0 {
		t.Errorf("expected 0 subscriptions, got %d", len(subs))
	}
}
