package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/billing"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/repository"
	"github.com/brandviz/brandviz/internal/testutil"
)

type creditHarness struct {
	store   *testutil.Store
	gateway *fakeGateway
	mailer  *fakeMailer
	service CreditService
}

func newCreditHarness() *creditHarness {
	h := &creditHarness{
		store:   testutil.NewStore(),
		gateway: &fakeGateway{session: &billing.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}},
		mailer:  &fakeMailer{},
	}
	h.service = NewCreditService(testConfig(), h.store.Manager(), h.gateway, h.mailer, nil, nopLogger)
	return h
}

func paidCheckout(sessionID, userID, packageID string) *billing.Event {
	return &billing.Event{
		ID:   "evt_" + sessionID,
		Type: billing.EventCheckoutCompleted,
		Checkout: &billing.CompletedCheckout{
			SessionID:     sessionID,
			Paid:          true,
			UserID:        userID,
			PackageID:     packageID,
			Credits:       1,
			CustomerEmail: "buyer@acme.test",
		},
	}
}

func TestDebitAndRefund(t *testing.T) {
	h := newCreditHarness()
	ctx := context.Background()
	user := h.store.AddUser("user@acme.test")
	h.store.AddCredits(user, 5)
	repos := h.store.Manager()

	txn, err := h.service.Debit(ctx, repos, LedgerEntry{UserID: user.ID, Amount: 3, SourceType: SourceAnalysis, SourceID: "a1"})
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if txn.Amount != -3 || txn.BalanceAfter != 2 || txn.Type != models.CreditUsage {
		t.Errorf("debit row = %+v", txn)
	}

	_, err = h.service.Debit(ctx, repos, LedgerEntry{UserID: user.ID, Amount: 3, SourceType: SourceAnalysis, SourceID: "a2"})
	if !errors.Is(err, repository.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want insufficient credits", err)
	}

	refund := LedgerEntry{UserID: user.ID, Amount: 1.5, SourceType: SourceAnalysis, SourceID: "a1:claude"}
	first, created, err := h.service.Refund(ctx, refund)
	if err != nil || !created {
		t.Fatalf("Refund = %v, %v", created, err)
	}
	second, created, err := h.service.Refund(ctx, refund)
	if err != nil || created {
		t.Fatalf("replayed Refund = %v, %v", created, err)
	}
	if first.ID != second.ID {
		t.Error("replay should return the original row")
	}
	if got := h.store.BalanceOf(user.ID); got != 3.5 {
		t.Errorf("balance = %v, want 3.5", got)
	}

	if _, err := h.service.Grant(ctx, LedgerEntry{UserID: user.ID, Amount: 0, SourceType: SourceAdmin}); err == nil {
		t.Error("zero grant should fail")
	}
}

func TestHistoryPagination(t *testing.T) {
	h := newCreditHarness()
	ctx := context.Background()
	user := h.store.AddUser("user@acme.test")
	for i := 0; i < 5; i++ {
		h.store.AddCredits(user, 1)
	}

	history, err := h.service.History(ctx, user.ID, 0, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history.Page != 1 || history.Limit != 2 || history.Total != 5 || len(history.Items) != 2 || history.Balance != 5 {
		t.Errorf("history = page %d limit %d total %d items %d balance %v",
			history.Page, history.Limit, history.Total, len(history.Items), history.Balance)
	}

	capped, err := h.service.History(ctx, user.ID, 1, 500)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if capped.Limit != 100 {
		t.Errorf("limit = %d, want 100", capped.Limit)
	}
}

func TestPackagesRequirePrice(t *testing.T) {
	h := newCreditHarness()
	packages := h.service.Packages()
	if len(packages) != 2 || packages[0].ID != "starter" || packages[1].ID != "growth" {
		t.Errorf("packages = %+v", packages)
	}
}

func TestCreateCheckout(t *testing.T) {
	h := newCreditHarness()
	ctx := context.Background()
	user := h.store.AddUser("buyer@acme.test")

	session, err := h.service.CreateCheckout(ctx, user, "growth")
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if session.URL == "" {
		t.Error("expected checkout URL")
	}
	req := h.gateway.lastReq
	if req.PriceID != "price_growth" || req.Credits != 200 || req.UserID != user.ID.String() || req.Email != "buyer@acme.test" {
		t.Errorf("checkout request = %+v", req)
	}
	if !strings.HasPrefix(req.SuccessURL, "https://app.brandviz.test/billing?status=success") {
		t.Errorf("success url = %s", req.SuccessURL)
	}

	if _, err := h.service.CreateCheckout(ctx, user, "scale"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("unpriced package err = %v, want not found", err)
	}
}

func TestHandleWebhook(t *testing.T) {
	h := newCreditHarness()
	ctx := context.Background()
	user := h.store.AddUser("buyer@acme.test")

	h.gateway.event = paidCheckout("cs_1", user.ID.String(), "starter")
	if err := h.service.HandleWebhook(ctx, []byte("{}"), "valid"); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if got := h.store.BalanceOf(user.ID); got != 50 {
		t.Fatalf("balance = %v, want package credits 50", got)
	}
	if msg := h.mailer.last(t); msg.ToEmail != user.Email || !strings.Contains(msg.PlainText, "50 credits") {
		t.Errorf("receipt = %+v", msg)
	}

	// Stripe retries deliveries; the session is credited once
	if err := h.service.HandleWebhook(ctx, []byte("{}"), "valid"); err != nil {
		t.Fatalf("replayed HandleWebhook: %v", err)
	}
	if got := h.store.BalanceOf(user.ID); got != 50 {
		t.Errorf("balance after replay = %v, want 50", got)
	}
	if len(h.mailer.sent) != 1 {
		t.Errorf("receipts = %d, want 1", len(h.mailer.sent))
	}
}

func TestHandleWebhookIgnoredEvents(t *testing.T) {
	tests := []struct {
		name  string
		event func(userID string) *billing.Event
	}{
		{"other event", func(string) *billing.Event { return &billing.Event{ID: "evt_x", Type: "invoice.paid"} }},
		{"unpaid", func(userID string) *billing.Event {
			e := paidCheckout("cs_2", userID, "starter")
			e.Checkout.Paid = false
			return e
		}},
		{"malformed user", func(string) *billing.Event { return paidCheckout("cs_3", "not-a-uuid", "starter") }},
		{"unknown user", func(string) *billing.Event {
			return paidCheckout("cs_4", "6f1c2a4e-3b0d-4a53-9a7e-2d8f9f3c1b10", "starter")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newCreditHarness()
			user := h.store.AddUser("buyer@acme.test")
			h.gateway.event = tt.event(user.ID.String())

			if err := h.service.HandleWebhook(context.Background(), []byte("{}"), "valid"); err != nil {
				t.Fatalf("HandleWebhook: %v", err)
			}
			if len(h.store.Transactions) != 0 {
				t.Errorf("ledger rows = %d, want none", len(h.store.Transactions))
			}
		})
	}
}

func TestHandleWebhookBadSignature(t *testing.T) {
	h := newCreditHarness()
	err := h.service.HandleWebhook(context.Background(), []byte("{}"), "forged")
	if !apperr.IsKind(err, apperr.KindBadRequest) {
		t.Errorf("err = %v, want bad request", err)
	}
}
