// Package repository declares the persistence contracts used by the services.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/brandviz/brandviz/internal/models"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrDuplicate           = errors.New("record already exists")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type BrandRepository interface {
	Create(ctx context.Context, brand *models.Brand) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Brand, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Brand, error)
	// ListScheduled returns live brands with auto analysis enabled for the weekday (0 = Monday)
	ListScheduled(ctx context.Context, weekday int) ([]*models.Brand, error)
	Update(ctx context.Context, brand *models.Brand) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	SlugExists(ctx context.Context, slug string) (bool, error)
}

type MembershipRepository interface {
	Create(ctx context.Context, m *models.Membership) error
	Get(ctx context.Context, brandID, userID uuid.UUID) (*models.Membership, error)
	ListByBrand(ctx context.Context, brandID uuid.UUID) ([]*models.MemberView, error)
	UpdateRole(ctx context.Context, brandID, userID uuid.UUID, role models.Role) error
	SoftDelete(ctx context.Context, brandID, userID uuid.UUID) error
	SoftDeleteByBrand(ctx context.Context, brandID uuid.UUID) error
	CountOwners(ctx context.Context, brandID uuid.UUID) (int, error)
}

type InviteRepository interface {
	Create(ctx context.Context, invite *models.Invite) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invite, error)
	GetByTokenHash(ctx context.Context, hash string) (*models.Invite, error)
	FindPendingByEmail(ctx context.Context, brandID uuid.UUID, email string) (*models.Invite, error)
	ListPending(ctx context.Context, brandID uuid.UUID) ([]*models.Invite, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.InviteStatus, acceptedAt *time.Time) error
}

type CreditRepository interface {
	// LockAccount serialises ledger writes for a user until the surrounding transaction ends
	LockAccount(ctx context.Context, userID uuid.UUID) error
	Balance(ctx context.Context, userID uuid.UUID) (float64, error)
	Insert(ctx context.Context, txn *models.CreditTransaction) error
	GetBySource(ctx context.Context, typ models.CreditTransactionType, sourceType, sourceID string) (*models.CreditTransaction, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, int, error)
}

type AnalysisRepository interface {
	Create(ctx context.Context, a *models.Analysis) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	// GetForUpdate loads the analysis and locks its row until the surrounding transaction ends
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	GetActiveForBrand(ctx context.Context, brandID uuid.UUID) (*models.Analysis, error)
	LatestCompleted(ctx context.Context, brandID uuid.UUID) (*models.Analysis, error)
	ListByBrand(ctx context.Context, brandID uuid.UUID, limit int) ([]*models.Analysis, error)
	ListCompleted(ctx context.Context, brandID uuid.UUID, limit int) ([]*models.Analysis, error)
	// ListStale returns analyses in status whose last update is older than before
	ListStale(ctx context.Context, status models.AnalysisStatus, before time.Time) ([]*models.Analysis, error)
	// TransitionStatus moves the analysis to status "to" only if it is currently in one of "from".
	// It reports whether a row changed.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []models.AnalysisStatus, to models.AnalysisStatus, errMsg *string) (bool, error)
	MarkRunning(ctx context.Context, id uuid.UUID) (bool, error)
	IncrementProgress(ctx context.Context, id uuid.UUID, completed, failed int) error
	AddRefund(ctx context.Context, id uuid.UUID, amount float64) error
	IncrementResume(ctx context.Context, id uuid.UUID) error
	Finish(ctx context.Context, a *models.Analysis) error
}

// ResultFilter narrows a result listing; zero values mean no filter
type ResultFilter struct {
	Model  models.AIModel
	Stage  models.FunnelStage
	Limit  int
	Offset int
}

type ResultRepository interface {
	Create(ctx context.Context, r *models.AnalysisResult) error
	Exists(ctx context.Context, analysisID uuid.UUID, model models.AIModel, stage models.FunnelStage) (bool, error)
	ListByAnalysis(ctx context.Context, analysisID uuid.UUID) ([]*models.AnalysisResult, error)
	ListByBrand(ctx context.Context, brandID uuid.UUID, filter ResultFilter) ([]*models.AnalysisResult, int, error)
}

// Manager groups all repositories so services depend on a single value.
type Manager struct {
	Users       UserRepository
	Brands      BrandRepository
	Memberships MembershipRepository
	Invites     InviteRepository
	Credits     CreditRepository
	Analyses    AnalysisRepository
	Results     ResultRepository

	// TxRunner executes fn against repositories bound to one transaction.
	// When nil, WithinTx runs fn against the manager itself.
	TxRunner func(ctx context.Context, fn func(repos *Manager) error) error
}

// WithinTx runs fn atomically. Any error returned by fn rolls the transaction back.
func (m *Manager) WithinTx(ctx context.Context, fn func(repos *Manager) error) error {
	if m.TxRunner == nil {
		return fn(m)
	}
	return m.TxRunner(ctx, fn)
}
