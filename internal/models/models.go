// internal/models/models.go
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// FunnelStage is one of the four marketing funnel stages used as the analysis taxonomy
type FunnelStage string

const (
	StageTOFU FunnelStage = "TOFU" // Top of funnel: awareness
	StageMOFU FunnelStage = "MOFU" // Middle of funnel: consideration
	StageBOFU FunnelStage = "BOFU" // Bottom of funnel: decision
	StageEVFU FunnelStage = "EVFU" // End of funnel: evangelism / retention
)

// AllStages lists the funnel stages in funnel order
var AllStages = []FunnelStage{StageTOFU, StageMOFU, StageBOFU, StageEVFU}

func (s FunnelStage) Valid() bool {
	switch s {
	case StageTOFU, StageMOFU, StageBOFU, StageEVFU:
		return true
	}
	return false
}

// AIModel identifies one of the chat assistants a brand is evaluated against
type AIModel string

const (
	ModelChatGPT AIModel = "chatgpt"
	ModelClaude  AIModel = "claude"
	ModelGemini  AIModel = "gemini"
)

// AllModels lists the supported assistants
var AllModels = []AIModel{ModelChatGPT, ModelClaude, ModelGemini}

func (m AIModel) Valid() bool {
	switch m {
	case ModelChatGPT, ModelClaude, ModelGemini:
		return true
	}
	return false
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleViewer
}

// CanManage reports whether the role may mutate brand settings, start analyses and invite
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Name         string     `json:"name" db:"name"`
	PasswordHash string     `json:"-" db:"password_hash"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt    *time.Time `json:"-" db:"deleted_at"`
}

type Brand struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	OwnerID         uuid.UUID      `json:"owner_id" db:"owner_id"`
	Name            string         `json:"name" db:"name"`
	Slug            string         `json:"slug" db:"slug"`
	Website         string         `json:"website" db:"website"`
	Industry        string         `json:"industry" db:"industry"`
	Description     string         `json:"description" db:"description"`
	Competitors     pq.StringArray `json:"competitors" db:"competitors"`
	Keywords        pq.StringArray `json:"keywords" db:"keywords"`
	Region          string         `json:"region" db:"region"`
	AutoAnalysis    bool           `json:"auto_analysis" db:"auto_analysis"`
	AnalysisWeekday *int           `json:"analysis_weekday,omitempty" db:"analysis_weekday"` // 0 = Monday
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt       *time.Time     `json:"-" db:"deleted_at"`
}

type Membership struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	BrandID   uuid.UUID  `json:"brand_id" db:"brand_id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	Role      Role       `json:"role" db:"role"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// MemberView joins a membership with the member's user record
type MemberView struct {
	Membership
	Email string `json:"email" db:"email"`
	Name  string `json:"name" db:"name"`
}

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRevoked  InviteStatus = "revoked"
	InviteExpired  InviteStatus = "expired"
)

type Invite struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	BrandID    uuid.UUID    `json:"brand_id" db:"brand_id"`
	Email      string       `json:"email" db:"email"`
	Role       Role         `json:"role" db:"role"`
	TokenHash  string       `json:"-" db:"token_hash"`
	InvitedBy  uuid.UUID    `json:"invited_by" db:"invited_by"`
	Status     InviteStatus `json:"status" db:"status"`
	ExpiresAt  time.Time    `json:"expires_at" db:"expires_at"`
	AcceptedAt *time.Time   `json:"accepted_at,omitempty" db:"accepted_at"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

type CreditTransactionType string

const (
	CreditPurchase CreditTransactionType = "purchase"
	CreditUsage    CreditTransactionType = "usage"
	CreditRefund   CreditTransactionType = "refund"
	CreditGrant    CreditTransactionType = "grant"
)

// CreditTransaction is one row of the credit ledger.
// Amount is positive for credits added and negative for debits.
type CreditTransaction struct {
	ID           uuid.UUID             `json:"id" db:"id"`
	UserID       uuid.UUID             `json:"user_id" db:"user_id"`
	Type         CreditTransactionType `json:"type" db:"type"`
	Amount       float64               `json:"amount" db:"amount"`
	BalanceAfter float64               `json:"balance_after" db:"balance_after"`
	SourceType   string                `json:"source_type" db:"source_type"` // analysis, stripe_session, signup, admin
	SourceID     *string               `json:"source_id,omitempty" db:"source_id"`
	Description  string                `json:"description" db:"description"`
	Metadata     json.RawMessage       `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time             `json:"created_at" db:"created_at"`
}

type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisRunning   AnalysisStatus = "running"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
	AnalysisCancelled AnalysisStatus = "cancelled"
)

// Active reports whether the analysis still has work outstanding
func (s AnalysisStatus) Active() bool {
	return s == AnalysisPending || s == AnalysisRunning
}

// Analysis is the status document of one multi-prompt analysis (model × stage matrix)
type Analysis struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	BrandID         uuid.UUID      `json:"brand_id" db:"brand_id"`
	RequestedBy     uuid.UUID      `json:"requested_by" db:"requested_by"`
	Models          pq.StringArray `json:"models" db:"models"`
	Stages          pq.StringArray `json:"stages" db:"stages"`
	Status          AnalysisStatus `json:"status" db:"status"`
	TotalSteps      int            `json:"total_steps" db:"total_steps"`
	CompletedSteps  int            `json:"completed_steps" db:"completed_steps"`
	FailedSteps     int            `json:"failed_steps" db:"failed_steps"`
	CreditsCharged  float64        `json:"credits_charged" db:"credits_charged"`
	CreditsRefunded float64        `json:"credits_refunded" db:"credits_refunded"`
	OverallScore    *float64       `json:"overall_score,omitempty" db:"overall_score"`
	ResumeCount     int            `json:"resume_count" db:"resume_count"`
	Error           *string        `json:"error,omitempty" db:"error"`
	StartedAt       *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Progress returns the share of finished combinations in [0,1]
func (a *Analysis) Progress() float64 {
	if a.TotalSteps == 0 {
		return 0
	}
	return float64(a.CompletedSteps+a.FailedSteps) / float64(a.TotalSteps)
}

// AnalysisResult is the scored output of one model × stage combination
type AnalysisResult struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	AnalysisID     uuid.UUID      `json:"analysis_id" db:"analysis_id"`
	BrandID        uuid.UUID      `json:"brand_id" db:"brand_id"`
	Model          AIModel        `json:"model" db:"model"`
	Stage          FunnelStage    `json:"stage" db:"stage"`
	Prompt         string         `json:"prompt" db:"prompt"`
	Response       string         `json:"response" db:"response"`
	BrandMentioned bool           `json:"brand_mentioned" db:"brand_mentioned"`
	Position       *int           `json:"position,omitempty" db:"position"`
	Sentiment      Sentiment      `json:"sentiment" db:"sentiment"`
	RawScore       float64        `json:"raw_score" db:"raw_score"`
	Weight         float64        `json:"weight" db:"weight"`
	WeightedScore  float64        `json:"weighted_score" db:"weighted_score"`
	Competitors    pq.StringArray `json:"competitors" db:"competitors"`
	Sources        pq.StringArray `json:"sources" db:"sources"`
	Summary        string         `json:"summary" db:"summary"`
	InputTokens    int            `json:"input_tokens" db:"input_tokens"`
	OutputTokens   int            `json:"output_tokens" db:"output_tokens"`
	Cost           float64        `json:"cost" db:"cost"`
	Error          *string        `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// Failed reports whether the combination produced no usable answer
func (r *AnalysisResult) Failed() bool {
	return r.Error != nil && *r.Error != ""
}

// CreditPackage is a purchasable bundle of credits
type CreditPackage struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Credits       int    `json:"credits"`
	PriceCents    int64  `json:"price_cents"`
	StripePriceID string `json:"-"`
}
