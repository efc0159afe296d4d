// Package billing wraps the Stripe API calls used to sell credits.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const EventCheckoutCompleted = "checkout.session.completed"

var (
	ErrNotConfigured    = errors.New("billing is not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// CheckoutRequest describes a one-off credit purchase
type CheckoutRequest struct {
	UserID     string
	Email      string
	PackageID  string
	Credits    int
	PriceID    string
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CompletedCheckout is the part of a checkout.session.completed event we act on
type CompletedCheckout struct {
	SessionID     string
	Paid          bool
	UserID        string
	PackageID     string
	Credits       int
	CustomerEmail string
}

// Event is a verified webhook event. Checkout is set only for completed checkouts.
type Event struct {
	ID       string
	Type     string
	Checkout *CompletedCheckout
}

// Gateway is the subset of Stripe the credit service needs
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway creates a gateway. backends may be nil to use the live Stripe API.
func NewStripeGateway(secretKey, webhookSecret string, backends *stripe.Backends) *StripeGateway {
	return &StripeGateway{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata("package_id", req.PackageID)
	params.AddMetadata("credits", strconv.Itoa(req.Credits))
	params.AddMetadata("user_id", req.UserID)

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}
	if out.Type != EventCheckoutCompleted {
		return out, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}

	checkout := &CompletedCheckout{
		SessionID: session.ID,
		Paid:      session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		UserID:    session.ClientReferenceID,
		PackageID: session.Metadata["package_id"],
	}
	if checkout.UserID == "" {
		checkout.UserID = session.Metadata["user_id"]
	}
	if n, err := strconv.Atoi(session.Metadata["credits"]); err == nil {
		checkout.Credits = n
	}
	if session.CustomerDetails != nil {
		checkout.CustomerEmail = session.CustomerDetails.Email
	}
	out.Checkout = checkout
	return out, nil
}

// Disabled is used when no Stripe key is configured
type Disabled struct{}

func (Disabled) CreateCheckoutSession(context.Context, CheckoutRequest) (*CheckoutSession, error) {
	return nil, ErrNotConfigured
}

func (Disabled) ParseWebhook([]byte, string) (*Event, error) {
	return nil, ErrNotConfigured
}
