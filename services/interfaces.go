// services/interfaces.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/brandviz/brandviz/internal/billing"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/repository"
)

// AuthSession is returned by signup and login
type AuthSession struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type SignupInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Name     string `json:"name" validate:"max=120"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UserService interface {
	Signup(ctx context.Context, input SignupInput) (*AuthSession, error)
	Login(ctx context.Context, input LoginInput) (*AuthSession, error)
	// Authenticate resolves a session token to its user
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type BrandInput struct {
	Name            string   `json:"name" validate:"required,min=1,max=120"`
	Website         string   `json:"website" validate:"omitempty,url,max=2048"`
	Industry        string   `json:"industry" validate:"max=120"`
	Description     string   `json:"description" validate:"max=2000"`
	Competitors     []string `json:"competitors" validate:"max=20,dive,min=1,max=120"`
	Keywords        []string `json:"keywords" validate:"max=20,dive,min=1,max=120"`
	Region          string   `json:"region" validate:"max=120"`
	AutoAnalysis    bool     `json:"auto_analysis"`
	AnalysisWeekday *int     `json:"analysis_weekday" validate:"omitempty,min=0,max=6"`
}

// BrandPatch holds the fields of a partial update; nil means unchanged
type BrandPatch struct {
	Name            *string   `json:"name" validate:"omitempty,min=1,max=120"`
	Website         *string   `json:"website" validate:"omitempty,max=2048"`
	Industry        *string   `json:"industry" validate:"omitempty,max=120"`
	Description     *string   `json:"description" validate:"omitempty,max=2000"`
	Competitors     *[]string `json:"competitors" validate:"omitempty,max=20,dive,min=1,max=120"`
	Keywords        *[]string `json:"keywords" validate:"omitempty,max=20,dive,min=1,max=120"`
	Region          *string   `json:"region" validate:"omitempty,max=120"`
	AutoAnalysis    *bool     `json:"auto_analysis"`
	AnalysisWeekday *int      `json:"analysis_weekday" validate:"omitempty,min=0,max=6"`
}

// BrandView is a brand together with the caller's role on it
type BrandView struct {
	*models.Brand
	Role models.Role `json:"role"`
}

type BrandService interface {
	Create(ctx context.Context, user *models.User, input BrandInput) (*BrandView, error)
	Get(ctx context.Context, user *models.User, brandID uuid.UUID) (*BrandView, error)
	List(ctx context.Context, user *models.User) ([]*BrandView, error)
	Update(ctx context.Context, user *models.User, brandID uuid.UUID, patch BrandPatch) (*BrandView, error)
	Delete(ctx context.Context, user *models.User, brandID uuid.UUID) error
}

type TeamService interface {
	ListMembers(ctx context.Context, user *models.User, brandID uuid.UUID) ([]*models.MemberView, error)
	ChangeRole(ctx context.Context, user *models.User, brandID, memberID uuid.UUID, role models.Role) error
	RemoveMember(ctx context.Context, user *models.User, brandID, memberID uuid.UUID) error
	CreateInvite(ctx context.Context, user *models.User, brandID uuid.UUID, email string, role models.Role) (*models.Invite, error)
	ListInvites(ctx context.Context, user *models.User, brandID uuid.UUID) ([]*models.Invite, error)
	RevokeInvite(ctx context.Context, user *models.User, brandID, inviteID uuid.UUID) error
	AcceptInvite(ctx context.Context, user *models.User, token string) (*models.Membership, error)
}

// CreditHistory is one page of the ledger
type CreditHistory struct {
	Items   []*models.CreditTransaction `json:"items"`
	Balance float64                     `json:"balance"`
	Page    int                         `json:"page"`
	Limit   int                         `json:"limit"`
	Total   int                         `json:"total"`
}

// LedgerEntry describes a credit movement. Amount is always positive;
// the transaction type decides the sign.
type LedgerEntry struct {
	UserID      uuid.UUID
	Amount      float64
	SourceType  string
	SourceID    string
	Description string
	Metadata    map[string]interface{}
}

type CreditService interface {
	Balance(ctx context.Context, userID uuid.UUID) (float64, error)
	History(ctx context.Context, userID uuid.UUID, page, limit int) (*CreditHistory, error)
	Grant(ctx context.Context, entry LedgerEntry) (*models.CreditTransaction, error)
	// Debit charges the user inside the transaction of repos
	Debit(ctx context.Context, repos *repository.Manager, entry LedgerEntry) (*models.CreditTransaction, error)
	// Refund credits the user back once per source. created is false when the
	// source was already refunded and the original row is returned.
	Refund(ctx context.Context, entry LedgerEntry) (txn *models.CreditTransaction, created bool, err error)
	Packages() []models.CreditPackage
	CreateCheckout(ctx context.Context, user *models.User, packageID string) (*billing.CheckoutSession, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// MatrixCell is one model × stage outcome
type MatrixCell struct {
	Model          models.AIModel     `json:"model"`
	Stage          models.FunnelStage `json:"stage"`
	WeightedScore  float64            `json:"weighted_score"`
	RawScore       float64            `json:"raw_score"`
	Weight         float64            `json:"weight"`
	BrandMentioned bool               `json:"brand_mentioned"`
	Position       *int               `json:"position,omitempty"`
	Sentiment      models.Sentiment   `json:"sentiment"`
	Failed         bool               `json:"failed"`
}

type Matrix struct {
	AnalysisID *uuid.UUID                                            `json:"analysis_id"`
	Models     []models.AIModel                                      `json:"models"`
	Stages     []models.FunnelStage                                  `json:"stages"`
	Cells      map[models.AIModel]map[models.FunnelStage]*MatrixCell `json:"cells"`
}

type CompetitorCount struct {
	Name     string `json:"name"`
	Mentions int    `json:"mentions"`
}

type TrendPoint struct {
	AnalysisID uuid.UUID `json:"analysis_id"`
	Date       time.Time `json:"date"`
	Score      float64   `json:"score"`
}

// Dashboard summarises a brand's latest completed analysis and its history
type Dashboard struct {
	Brand          *models.Brand                  `json:"brand"`
	Analysis       *models.Analysis               `json:"analysis"`
	ActiveAnalysis *models.Analysis               `json:"active_analysis"`
	OverallScore   *float64                       `json:"overall_score"`
	StageScores    map[models.FunnelStage]float64 `json:"stage_scores"`
	ModelScores    map[models.AIModel]float64     `json:"model_scores"`
	VisibilityRate float64                        `json:"visibility_rate"`
	Sentiment      map[models.Sentiment]int       `json:"sentiment"`
	TopCompetitors []CompetitorCount              `json:"top_competitors"`
	Trend          []TrendPoint                   `json:"trend"`
}

type LogQuery struct {
	Page  int                `validate:"min=1"`
	Limit int                `validate:"min=1,max=100"`
	Model models.AIModel     `validate:"omitempty,oneof=chatgpt claude gemini"`
	Stage models.FunnelStage `validate:"omitempty,oneof=TOFU MOFU BOFU EVFU"`
}

type LogPage struct {
	Items      []*models.AnalysisResult `json:"items"`
	Page       int                      `json:"page"`
	Limit      int                      `json:"limit"`
	Total      int                      `json:"total"`
	TotalPages int                      `json:"total_pages"`
}

type DataOrganizationService interface {
	Dashboard(ctx context.Context, user *models.User, brandID uuid.UUID) (*Dashboard, error)
	// Matrix returns the cells of analysisID, or of the latest completed analysis when nil
	Matrix(ctx context.Context, user *models.User, brandID uuid.UUID, analysisID *uuid.UUID) (*Matrix, error)
	Logs(ctx context.Context, user *models.User, brandID uuid.UUID, query LogQuery) (*LogPage, error)
	InvalidateDashboard(ctx context.Context, brandID uuid.UUID)
}

type ScoringService interface {
	Evaluate(stage models.FunnelStage, response string, brand *models.Brand) ScoreResult
}

type AnalysisRequest struct {
	Models []string `json:"models" validate:"omitempty,max=3,dive,required"`
	Stages []string `json:"stages" validate:"omitempty,max=4,dive,required"`
}

// AnalysisView is the status document returned to clients
type AnalysisView struct {
	*models.Analysis
	Progress float64 `json:"progress"`
}

// StepOutcome reports what happened to one model × stage combination
type StepOutcome struct {
	Model    models.AIModel     `json:"model"`
	Stage    models.FunnelStage `json:"stage"`
	Status   string             `json:"status"` // completed, failed, skipped, cancelled
	Score    float64            `json:"score"`
	Error    string             `json:"error,omitempty"`
	Duration time.Duration      `json:"duration"`
}

const (
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
	StepCancelled = "cancelled"
)

// SweepReport summarises one stale-analysis sweep
type SweepReport struct {
	Resumed []uuid.UUID `json:"resumed"`
	Failed  []uuid.UUID `json:"failed"`
	Expired []uuid.UUID `json:"expired"`
}

// AnalysisDispatcher hands an analysis to the background job runner
type AnalysisDispatcher interface {
	DispatchAnalysis(ctx context.Context, analysisID, brandID uuid.UUID, triggeredBy string) error
}

type BackgroundAnalysisService interface {
	StartAnalysis(ctx context.Context, user *models.User, brandID uuid.UUID, req AnalysisRequest) (*AnalysisView, error)
	StartScheduled(ctx context.Context, brand *models.Brand) (*AnalysisView, error)
	CancelAnalysis(ctx context.Context, user *models.User, brandID, analysisID uuid.UUID) (*AnalysisView, error)
	GetAnalysis(ctx context.Context, user *models.User, brandID, analysisID uuid.UUID) (*AnalysisView, error)
	ListAnalyses(ctx context.Context, user *models.User, brandID uuid.UUID, limit int) ([]*AnalysisView, error)
	ScheduledBrands(ctx context.Context, weekday int) ([]*models.Brand, error)

	// Worker side, called from the job runner
	MarkRunning(ctx context.Context, analysisID uuid.UUID) (*models.Analysis, error)
	RunStep(ctx context.Context, analysisID uuid.UUID, model models.AIModel, stage models.FunnelStage) (*StepOutcome, error)
	Finalize(ctx context.Context, analysisID uuid.UUID) (*models.Analysis, error)
	SweepStale(ctx context.Context, now time.Time) (*SweepReport, error)
}
