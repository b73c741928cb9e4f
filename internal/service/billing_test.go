package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"geminichat/internal/models"

	"github.com/stripe/stripe-go/v79"
)

func newBillingService(t *testing.T) (*BillingService, *UserService) {
	t.Helper()
	gdb := openTestDB(t)
	cfg := testConfig()
	cfg.StripePriceIDPro = "price_test_pro"
	return NewBillingService(gdb, cfg), NewUserService(gdb, cfg, nil, nil)
}

func checkoutCompletedEvent(t *testing.T, userID uint, tier, stripeSubID string) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":           "cs_test_123",
		"metadata":     map[string]string{"user_id": fmt.Sprint(userID), "tier": tier},
		"subscription": map[string]any{"id": stripeSubID},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return stripe.Event{Type: "checkout.session.completed", Data: &stripe.EventData{Raw: raw}}
}

func subscriptionEvent(t *testing.T, eventType, stripeSubID string) stripe.Event {
	t.Helper()
	var payload map[string]any
	if eventType == "invoice.payment_succeeded" {
		payload = map[string]any{"id": "in_test_123", "subscription": map[string]any{"id": stripeSubID}}
	} else {
		payload = map[string]any{"id": stripeSubID}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return stripe.Event{Type: stripe.EventType(eventType), Data: &stripe.EventData{Raw: raw}}
}

func TestCreateCheckoutSessionUnpurchasableTier(t *testing.T) {
	svc, _ := newBillingService(t)

	tests := []struct {
		name string
		tier string
	}{
		{"basic tier", models.TierBasic},
		{"free tier", models.TierFree},
		{"unknown tier", "platinum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateCheckoutSession(1, tt.tier, "https://app/success", "https://app/cancel")
			if !errors.Is(err, ErrTierNotPurchasable) {
				t.Errorf("CreateCheckoutSession() error = %v, want ErrTierNotPurchasable", err)
			}
		})
	}
}

func TestApplyCheckoutCompleted(t *testing.T) {
	svc, users := newBillingService(t)
	user, err := users.Register("+15550001111", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	event := checkoutCompletedEvent(t, user.ID, models.TierPro, "sub_test_abc")
	if err := svc.ApplyEvent(event); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}

	subscription, err := svc.Current(user.ID)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if subscription.Status != models.SubscriptionActive {
		t.Errorf("subscription Status = %q, want active", subscription.Status)
	}
	if subscription.Tier != models.TierPro {
		t.Errorf("subscription Tier = %q, want pro", subscription.Tier)
	}
	if subscription.StripeSubscriptionID != "sub_test_abc" {
		t.Errorf("StripeSubscriptionID = %q, want sub_test_abc", subscription.StripeSubscriptionID)
	}

	got, err := users.GetByID(user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.SubscriptionTier != models.TierPro {
		t.Errorf("user SubscriptionTier = %q, want pro", got.SubscriptionTier)
	}
	if got.SubscriptionStatus != models.SubscriptionActive {
		t.Errorf("user SubscriptionStatus = %q, want active", got.SubscriptionStatus)
	}
}

func TestApplyCheckoutCompletedUnknownUser(t *testing.T) {
	svc, _ := newBillingService(t)

	event := checkoutCompletedEvent(t, 9999, models.TierPro, "sub_test_abc")
	if err := svc.ApplyEvent(event); err != nil {
		t.Errorf("ApplyEvent() error = %v, unknown user should be ignored", err)
	}
}

func TestApplyCheckoutCompletedMissingMetadata(t *testing.T) {
	svc, _ := newBillingService(t)

	raw, _ := json.Marshal(map[string]any{"id": "cs_test_123"})
	event := stripe.Event{Type: "checkout.session.completed", Data: &stripe.EventData{Raw: raw}}
	if err := svc.ApplyEvent(event); err == nil {
		t.Error("ApplyEvent() error = nil, want error for missing metadata")
	}
}

func TestApplyDeletedDowngradesToBasic(t *testing.T) {
	svc, users := newBillingService(t)
	user, err := users.Register("+15550001111", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := svc.ApplyEvent(checkoutCompletedEvent(t, user.ID, models.TierPro, "sub_test_abc")); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if err := svc.ApplyEvent(subscriptionEvent(t, "customer.subscription.deleted", "sub_test_abc")); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}

	subscription, err := svc.Current(user.ID)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if subscription.Status != models.SubscriptionCancelled {
		t.Errorf("subscription Status = %q, want cancelled", subscription.Status)
	}

	got, err := users.GetByID(user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.SubscriptionTier != models.TierBasic {
		t.Errorf("user SubscriptionTier = %q, want basic after deletion", got.SubscriptionTier)
	}
	if got.SubscriptionStatus != models.SubscriptionCancelled {
		t.Errorf("user SubscriptionStatus = %q, want cancelled", got.SubscriptionStatus)
	}
}

func TestApplyRenewalReactivates(t *testing.T) {
	svc, users := newBillingService(t)
	user, err := users.Register("+15550001111", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := svc.ApplyEvent(checkoutCompletedEvent(t, user.ID, models.TierPro, "sub_test_abc")); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if err := svc.ApplyEvent(subscriptionEvent(t, "customer.subscription.deleted", "sub_test_abc")); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if err := svc.ApplyEvent(subscriptionEvent(t, "invoice.payment_succeeded", "sub_test_abc")); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}

	subscription, err := svc.Current(user.ID)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if subscription.Status != models.SubscriptionActive {
		t.Errorf("subscription Status = %q, want active after renewal", subscription.Status)
	}

	got, err := users.GetByID(user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.SubscriptionStatus != models.SubscriptionActive {
		t.Errorf("user SubscriptionStatus = %q, want active", got.SubscriptionStatus)
	}
}

func TestApplyRenewalUnknownSubscription(t *testing.T) {
	svc, _ := newBillingService(t)

	if err := svc.ApplyEvent(subscriptionEvent(t, "invoice.payment_succeeded", "sub_unknown")); err != nil {
		t.Errorf("ApplyEvent() error = %v, unknown subscription should be ignored", err)
	}
}

func TestApplyEventIgnoresOtherTypes(t *testing.T) {
	svc, _ := newBillingService(t)

	event := stripe.Event{Type: "payment_intent.created", Data: &stripe.EventData{Raw: []byte(`{}`)}}
	if err := svc.ApplyEvent(event); err != nil {
		t.Errorf("ApplyEvent() error = %v, unhandled types should be accepted", err)
	}
}

func TestCurrentNoSubscription(t *testing.T) {
	svc, users := newBillingService(t)
	user, err := users.Register("+15550001111", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := svc.Current(user.ID); !errors.Is(err, ErrNoSubscription) {
		t.Errorf("Current() error = %v, want ErrNoSubscription", err)
	}
}

func TestCancelWithoutActiveSubscription(t *testing.T) {
	svc, users := newBillingService(t)
	user, err := users.Register("+15550001111", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := svc.Cancel(user.ID); !errors.Is(err, ErrNoSubscription) {
		t.Errorf("Cancel() error = %v, want ErrNoSubscription", err)
	}
}

func TestHandleWebhookBadSignature(t *testing.T) {
	svc, _ := newBillingService(t)

	payload := []byte(`{"type":"checkout.session.completed"}`)
	if err := svc.HandleWebhook(payload, "t=1,v1=bad"); err == nil {
		t.Error("HandleWebhook() error = nil, want signature verification failure")
	}
}
