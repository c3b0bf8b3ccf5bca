package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/pkg/payment"
	"github.com/stripe/stripe-go/v74"
)

type fakeCheckout struct {
	requests []payment.CheckoutRequest
	err      error
}

func (f *fakeCheckout) CreateCheckoutSession(req payment.CheckoutRequest) (*stripe.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func sessionEvent(t *testing.T, id, typ string, session map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":     id,
		"object": "event",
		"type":   typ,
		"data":   map[string]any{"object": session},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	var event stripe.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return &event
}

func TestApplyPurchaseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := PurchaseInput{
		StripeEventID:   "evt_1",
		StripeSessionID: "cs_1",
		UID:             "u1",
		Email:           "u1@example.com",
		USDCents:        500,
		Credits:         100,
	}

	first, err := f.purchase.ApplyPurchase(ctx, in)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !first.Applied || first.BalanceCredits != 100 {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := f.purchase.ApplyPurchase(ctx, in)
	if err != nil {
		t.Fatalf("apply again: %v", err)
	}
	if second.Applied || second.Purchase.ID != first.Purchase.ID {
		t.Fatalf("second apply should be a no-op, got %+v", second)
	}

	// The same checkout redelivered under a different event id.
	in.StripeEventID = "evt_2"
	third, err := f.purchase.ApplyPurchase(ctx, in)
	if err != nil {
		t.Fatalf("apply by session: %v", err)
	}
	if third.Applied {
		t.Fatal("same session applied twice")
	}

	purchases, err := f.purchase.ListPurchases(ctx, "u1")
	if err != nil {
		t.Fatalf("list purchases: %v", err)
	}
	if len(purchases) != 1 {
		t.Fatalf("expected 1 purchase, got %d", len(purchases))
	}
	if got := f.balance(t, "u1"); got != 100 {
		t.Fatalf("expected balance 100, got %d", got)
	}
	if tasks := f.tasksOfKind(models.TaskPurchaseReceipt); len(tasks) != 1 {
		t.Fatalf("expected 1 receipt task, got %d", len(tasks))
	}
	f.assertReconciled(t, "u1")
}

func TestApplyPurchaseReceiptPayload(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "u1", 7)
	f.buy(t, "u1", "evt_9", 20)

	tasks := f.tasksOfKind(models.TaskPurchaseReceipt)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 receipt task, got %d", len(tasks))
	}
	var payload models.PurchaseReceiptPayload
	if err := json.Unmarshal(tasks[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Credits != 20 || payload.BalanceCredits != 27 || payload.Email != "u1@example.com" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestApplyPurchaseValidation(t *testing.T) {
	f := newFixture(t)
	bad := []PurchaseInput{
		{StripeSessionID: "cs", UID: "u", Credits: 1},
		{StripeEventID: "evt", UID: "u", Credits: 1},
		{StripeEventID: "evt", StripeSessionID: "cs", Credits: 1},
		{StripeEventID: "evt", StripeSessionID: "cs", UID: "u"},
		{StripeEventID: "evt", StripeSessionID: "cs", UID: "u", Credits: 1, USDCents: -1},
	}
	for i, in := range bad {
		_, err := f.purchase.ApplyPurchase(context.Background(), in)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestHandleStripeEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	paid := map[string]any{
		"id":             "cs_1",
		"object":         "checkout.session",
		"payment_status": "paid",
		"amount_total":   2000,
		"metadata": map[string]string{
			"uid":        "u1",
			"email":      "u1@example.com",
			"credits":    "500",
			"package_id": "2",
		},
	}
	if err := f.purchase.HandleStripeEvent(ctx, sessionEvent(t, "evt_1", "checkout.session.completed", paid)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if err := f.purchase.HandleStripeEvent(ctx, sessionEvent(t, "evt_1", "checkout.session.completed", paid)); err != nil {
		t.Fatalf("handle redelivered event: %v", err)
	}
	if got := f.balance(t, "u1"); got != 500 {
		t.Fatalf("expected balance 500, got %d", got)
	}

	purchases, err := f.purchase.ListPurchases(ctx, "u1")
	if err != nil {
		t.Fatalf("list purchases: %v", err)
	}
	if len(purchases) != 1 || purchases[0].USDCents != 2000 || purchases[0].StripeSessionID != "cs_1" {
		t.Fatalf("unexpected purchases %+v", purchases)
	}
}

func TestHandleStripeEventRejectsBadMetadata(t *testing.T) {
	f := newFixture(t)
	cases := []map[string]string{
		{"email": "u1@example.com", "credits": "5"},
		{"uid": "u1", "credits": "5"},
		{"uid": "u1", "email": "u1@example.com"},
		{"uid": "u1", "email": "u1@example.com", "credits": "abc"},
		{"uid": "u1", "email": "u1@example.com", "credits": "-5"},
	}
	for i, md := range cases {
		session := map[string]any{"id": "cs_bad", "payment_status": "paid", "metadata": md}
		err := f.purchase.HandleStripeEvent(context.Background(), sessionEvent(t, "evt_bad", "checkout.session.completed", session))
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestHandleStripeEventIgnoresOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unpaid := map[string]any{
		"id":             "cs_2",
		"payment_status": "unpaid",
		"metadata":       map[string]string{"uid": "u1", "email": "u1@example.com", "credits": "5"},
	}
	if err := f.purchase.HandleStripeEvent(ctx, sessionEvent(t, "evt_2", "checkout.session.completed", unpaid)); err != nil {
		t.Fatalf("unpaid session: %v", err)
	}
	if err := f.purchase.HandleStripeEvent(ctx, sessionEvent(t, "evt_3", "payment_intent.created", map[string]any{"id": "pi_1"})); err != nil {
		t.Fatalf("unrelated event: %v", err)
	}
	if _, err := f.ledger.GetUser(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ignored events must not credit anyone, got %v", err)
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.purchase.CreateCheckoutSession(ctx, "u1", "u1@example.com", 2)
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if session.ID != "cs_test_1" || session.URL == "" {
		t.Fatalf("unexpected session %+v", session)
	}
	if len(f.checkout.requests) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(f.checkout.requests))
	}
	req := f.checkout.requests[0]
	if req.UID != "u1" || req.Credits != 500 || req.PriceCents != 2000 || req.PackageID != 2 {
		t.Fatalf("unexpected checkout request %+v", req)
	}

	_, err = f.purchase.CreateCheckoutSession(ctx, "u1", "u1@example.com", 99)
	expectErr(t, err, ErrNotFound)

	_, err = f.purchase.CreateCheckoutSession(ctx, "u1", "", 2)
	expectErr(t, err, ErrInvalidInput)
}
