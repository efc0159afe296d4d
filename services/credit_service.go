// services/credit_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/billing"
	"github.com/brandviz/brandviz/internal/config"
	"github.com/brandviz/brandviz/internal/email"
	"github.com/brandviz/brandviz/internal/metrics"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/repository"
)

const (
	SourceAnalysis      = "analysis"
	SourceStripeSession = "stripe_session"
	SourceSignup        = "signup"
	SourceAdmin         = "admin"

	defaultPageSize = 20
	maxPageSize     = 100
)

type creditService struct {
	cfg     *config.Config
	repos   *repository.Manager
	gateway billing.Gateway
	mailer  email.Sender
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewCreditService(
	cfg *config.Config,
	repos *repository.Manager,
	gateway billing.Gateway,
	mailer email.Sender,
	m *metrics.Metrics,
	logger zerolog.Logger,
) CreditService {
	return &creditService{
		cfg:     cfg,
		repos:   repos,
		gateway: gateway,
		mailer:  mailer,
		metrics: m,
		logger:  logger.With().Str("component", "credits").Logger(),
	}
}

func (s *creditService) Balance(ctx context.Context, userID uuid.UUID) (float64, error) {
	balance, err := s.repos.Credits.Balance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (s *creditService) History(ctx context.Context, userID uuid.UUID, page, limit int) (*CreditHistory, error) {
	page, limit = normalizePage(page, limit)

	items, total, err := s.repos.Credits.List(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*models.CreditTransaction{}
	}
	return &CreditHistory{Items: items, Balance: balance, Page: page, Limit: limit, Total: total}, nil
}

func (s *creditService) Grant(ctx context.Context, entry LedgerEntry) (*models.CreditTransaction, error) {
	var txn *models.CreditTransaction
	err := s.repos.WithinTx(ctx, func(repos *repository.Manager) error {
		var err error
		txn, _, err = s.record(ctx, repos, models.CreditGrant, entry)
		return err
	})
	return txn, err
}

func (s *creditService) Debit(ctx context.Context, repos *repository.Manager, entry LedgerEntry) (*models.CreditTransaction, error) {
	txn, _, err := s.record(ctx, repos, models.CreditUsage, entry)
	if err != nil {
		return nil, err
	}
	s.metrics.CreditsDebited(entry.Amount)
	return txn, nil
}

func (s *creditService) Refund(ctx context.Context, entry LedgerEntry) (*models.CreditTransaction, bool, error) {
	var (
		txn     *models.CreditTransaction
		created bool
	)
	err := s.repos.WithinTx(ctx, func(repos *repository.Manager) error {
		var err error
		txn, created, err = s.record(ctx, repos, models.CreditRefund, entry)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.metrics.CreditsRefunded(entry.Amount)
	}
	return txn, created, nil
}

// record appends one ledger row under the user's account lock. Rows with a
// source are written once; a replay returns the existing row and created=false.
func (s *creditService) record(ctx context.Context, repos *repository.Manager, typ models.CreditTransactionType, entry LedgerEntry) (*models.CreditTransaction, bool, error) {
	if entry.Amount <= 0 {
		return nil, false, fmt.Errorf("credit amount must be positive, got %.2f", entry.Amount)
	}

	if err := repos.Credits.LockAccount(ctx, entry.UserID); err != nil {
		return nil, false, fmt.Errorf("failed to lock credit account %s: %w", entry.UserID, err)
	}

	if entry.SourceID != "" {
		existing, err := repos.Credits.GetBySource(ctx, typ, entry.SourceType, entry.SourceID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to check ledger source: %w", err)
		}
	}

	balance, err := repos.Credits.Balance(ctx, entry.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get balance: %w", err)
	}

	amount := entry.Amount
	if typ == models.CreditUsage {
		if balance < amount {
			return nil, false, fmt.Errorf("balance %.2f, cost %.2f: %w", balance, amount, repository.ErrInsufficientCredits)
		}
		amount = -amount
	}

	txn := &models.CreditTransaction{
		UserID:       entry.UserID,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: balance + amount,
		SourceType:   entry.SourceType,
		Description:  entry.Description,
	}
	if entry.SourceID != "" {
		sourceID := entry.SourceID
		txn.SourceID = &sourceID
	}
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, false, fmt.Errorf("failed to encode ledger metadata: %w", err)
		}
		txn.Metadata = raw
	}

	if err := repos.Credits.Insert(ctx, txn); err != nil {
		return nil, false, fmt.Errorf("failed to insert credit transaction: %w", err)
	}

	s.logger.Info().
		Str("user_id", entry.UserID.String()).
		Str("type", string(typ)).
		Float64("amount", amount).
		Float64("balance_after", txn.BalanceAfter).
		Str("source", entry.SourceType+":"+entry.SourceID).
		Msg("credit ledger entry recorded")
	return txn, true, nil
}

func (s *creditService) Packages() []models.CreditPackage {
	return s.cfg.CreditPackages()
}

func (s *creditService) findPackage(id string) (models.CreditPackage, bool) {
	for _, p := range s.cfg.CreditPackages() {
		if p.ID == id {
			return p, true
		}
	}
	return models.CreditPackage{}, false
}

func (s *creditService) CreateCheckout(ctx context.Context, user *models.User, packageID string) (*billing.CheckoutSession, error) {
	pkg, ok := s.findPackage(packageID)
	if !ok {
		return nil, apperr.NotFound("credit package %q not found", packageID)
	}

	appURL := strings.TrimRight(s.cfg.AppURL, "/")
	session, err := s.gateway.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		UserID:     user.ID.String(),
		Email:      user.Email,
		PackageID:  pkg.ID,
		Credits:    pkg.Credits,
		PriceID:    pkg.StripePriceID,
		SuccessURL: appURL + "/billing?status=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  appURL + "/billing?status=cancelled",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout for package %s: %w", pkg.ID, err)
	}

	s.logger.Info().Str("user_id", user.ID.String()).Str("package_id", pkg.ID).Str("session_id", session.ID).Msg("checkout session created")
	return session, nil
}

func (s *creditService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.ParseWebhook(payload, signature)
	if errors.Is(err, billing.ErrInvalidSignature) {
		return apperr.Wrap(apperr.KindBadRequest, err, "invalid webhook signature")
	}
	if err != nil {
		return fmt.Errorf("failed to parse webhook: %w", err)
	}

	logger := s.logger.With().Str("event_id", event.ID).Str("event_type", event.Type).Logger()
	if event.Checkout == nil {
		logger.Debug().Msg("ignoring webhook event")
		return nil
	}

	checkout := event.Checkout
	if !checkout.Paid {
		logger.Info().Str("session_id", checkout.SessionID).Msg("checkout completed without payment, ignoring")
		return nil
	}

	userID, err := uuid.Parse(checkout.UserID)
	if err != nil {
		// retrying cannot fix a malformed reference
		logger.Error().Str("client_reference_id", checkout.UserID).Msg("checkout has no valid user reference")
		return nil
	}
	user, err := s.repos.Users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Error().Str("user_id", checkout.UserID).Msg("checkout for unknown user")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	credits := checkout.Credits
	if pkg, ok := s.findPackage(checkout.PackageID); ok {
		credits = pkg.Credits
	}
	if credits <= 0 {
		logger.Error().Str("package_id", checkout.PackageID).Msg("checkout has no credit amount")
		return nil
	}

	var (
		txn     *models.CreditTransaction
		created bool
	)
	err = s.repos.WithinTx(ctx, func(repos *repository.Manager) error {
		var err error
		txn, created, err = s.record(ctx, repos, models.CreditPurchase, LedgerEntry{
			UserID:      userID,
			Amount:      float64(credits),
			SourceType:  SourceStripeSession,
			SourceID:    checkout.SessionID,
			Description: fmt.Sprintf("Purchased %d credits", credits),
			Metadata:    map[string]interface{}{"package_id": checkout.PackageID, "event_id": event.ID},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record purchase: %w", err)
	}
	if !created {
		logger.Info().Str("session_id", checkout.SessionID).Msg("checkout already fulfilled")
		return nil
	}

	if err := s.mailer.Send(ctx, email.PurchaseReceipt(user.Email, credits, txn.BalanceAfter)); err != nil {
		logger.Warn().Err(err).Msg("failed to send purchase receipt")
	}
	return nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}
