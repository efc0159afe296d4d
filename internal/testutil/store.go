// Package testutil provides in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/repository"
)

// Store is an in-memory implementation of every repository contract.
// WithinTx is not isolated: callbacks see and mutate the shared state.
type Store struct {
	mu sync.Mutex

	Users        map[uuid.UUID]*models.User
	Brands       map[uuid.UUID]*models.Brand
	Memberships  []*models.Membership
	Invites      map[uuid.UUID]*models.Invite
	Transactions []*models.CreditTransaction
	Analyses     map[uuid.UUID]*models.Analysis
	Results      []*models.AnalysisResult

	Now func() time.Time
}

func NewStore() *Store {
	return &Store{
		Users:    map[uuid.UUID]*models.User{},
		Brands:   map[uuid.UUID]*models.Brand{},
		Invites:  map[uuid.UUID]*models.Invite{},
		Analyses: map[uuid.UUID]*models.Analysis{},
		Now:      time.Now,
	}
}

// Manager returns a repository manager backed by the store
func (s *Store) Manager() *repository.Manager {
	return &repository.Manager{
		Users:       (*userStore)(s),
		Brands:      (*brandStore)(s),
		Memberships: (*membershipStore)(s),
		Invites:     (*inviteStore)(s),
		Credits:     (*creditStore)(s),
		Analyses:    (*analysisStore)(s),
		Results:     (*resultStore)(s),
	}
}

// AddUser inserts a user directly
func (s *Store) AddUser(email string) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &models.User{ID: uuid.New(), Email: strings.ToLower(email), Name: email, CreatedAt: s.Now(), UpdatedAt: s.Now()}
	s.Users[u.ID] = u
	return u
}

// AddBrand inserts a brand with an owner membership
func (s *Store) AddBrand(owner *models.User, name string) *models.Brand {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &models.Brand{ID: uuid.New(), OwnerID: owner.ID, Name: name, Slug: strings.ToLower(name), CreatedAt: s.Now(), UpdatedAt: s.Now()}
	s.Brands[b.ID] = b
	s.Memberships = append(s.Memberships, &models.Membership{ID: uuid.New(), BrandID: b.ID, UserID: owner.ID, Role: models.RoleOwner, CreatedAt: s.Now()})
	return b
}

// AddMember inserts a membership directly
func (s *Store) AddMember(brand *models.Brand, user *models.User, role models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Memberships = append(s.Memberships, &models.Membership{ID: uuid.New(), BrandID: brand.ID, UserID: user.ID, Role: role, CreatedAt: s.Now()})
}

// AddCredits appends a grant to the ledger
func (s *Store) AddCredits(user *models.User, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Transactions = append(s.Transactions, &models.CreditTransaction{
		ID: uuid.New(), UserID: user.ID, Type: models.CreditGrant, Amount: amount,
		BalanceAfter: s.balance(user.ID) + amount, SourceType: "admin", CreatedAt: s.Now(),
	})
}

// BalanceOf sums the user's ledger
func (s *Store) BalanceOf(userID uuid.UUID) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance(userID)
}

func (s *Store) balance(userID uuid.UUID) float64 {
	var total float64
	for _, t := range s.Transactions {
		if t.UserID == userID {
			total += t.Amount
		}
	}
	return total
}

type userStore Store

func (s *userStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.Users {
		if strings.EqualFold(u.Email, user.Email) && u.DeletedAt == nil {
			return repository.ErrDuplicate
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt, user.UpdatedAt = s.Now(), s.Now()
	cp := *user
	s.Users[user.ID] = &cp
	return nil
}

func (s *userStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.Users[id]; ok && u.DeletedAt == nil {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (s *userStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.Users {
		if strings.EqualFold(u.Email, email) && u.DeletedAt == nil {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

type brandStore Store

func (s *brandStore) Create(ctx context.Context, brand *models.Brand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.Brands {
		if b.Slug == brand.Slug && b.DeletedAt == nil {
			return repository.ErrDuplicate
		}
	}
	if brand.ID == uuid.Nil {
		brand.ID = uuid.New()
	}
	brand.CreatedAt, brand.UpdatedAt = s.Now(), s.Now()
	cp := *brand
	s.Brands[brand.ID] = &cp
	return nil
}

func (s *brandStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Brand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.Brands[id]; ok && b.DeletedAt == nil {
		cp := *b
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (s *brandStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Brand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Brand{}
	for _, m := range s.Memberships {
		if m.UserID != userID || m.DeletedAt != nil {
			continue
		}
		if b, ok := s.Brands[m.BrandID]; ok && b.DeletedAt == nil {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *brandStore) ListScheduled(ctx context.Context, weekday int) ([]*models.Brand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Brand{}
	for _, b := range s.Brands {
		if b.DeletedAt == nil && b.AutoAnalysis && b.AnalysisWeekday != nil && *b.AnalysisWeekday == weekday {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *brandStore) Update(ctx context.Context, brand *models.Brand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.Brands[brand.ID]
	if !ok || b.DeletedAt != nil {
		return repository.ErrNotFound
	}
	brand.UpdatedAt = s.Now()
	cp := *brand
	s.Brands[brand.ID] = &cp
	return nil
}

func (s *brandStore) SoftDelete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.Brands[id]
	if !ok || b.DeletedAt != nil {
		return repository.ErrNotFound
	}
	now := s.Now()
	b.DeletedAt = &now
	return nil
}

func (s *brandStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.Brands {
		if b.Slug == slug && b.DeletedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

type membershipStore Store

func (s *membershipStore) live(brandID, userID uuid.UUID) *models.Membership {
	for _, m := range s.Memberships {
		if m.BrandID == brandID && m.UserID == userID && m.DeletedAt == nil {
			return m
		}
	}
	return nil
}

func (s *membershipStore) Create(ctx context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live(m.BrandID, m.UserID) != nil {
		return repository.ErrDuplicate
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = s.Now()
	cp := *m
	s.Memberships = append(s.Memberships, &cp)
	return nil
}

func (s *membershipStore) Get(ctx context.Context, brandID, userID uuid.UUID) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.live(brandID, userID); m != nil {
		cp := *m
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (s *membershipStore) ListByBrand(ctx context.Context, brandID uuid.UUID) ([]*models.MemberView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.MemberView{}
	for _, m := range s.Memberships {
		if m.BrandID != brandID || m.DeletedAt != nil {
			continue
		}
		view := &models.MemberView{Membership: *m}
		if u, ok := s.Users[m.UserID]; ok {
			view.Email, view.Name = u.Email, u.Name
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *membershipStore) UpdateRole(ctx context.Context, brandID, userID uuid.UUID, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.live(brandID, userID)
	if m == nil {
		return repository.ErrNotFound
	}
	m.Role = role
	return nil
}

func (s *membershipStore) SoftDelete(ctx context.Context, brandID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.live(brandID, userID)
	if m == nil {
		return repository.ErrNotFound
	}
	now := s.Now()
	m.DeletedAt = &now
	return nil
}

func (s *membershipStore) SoftDeleteByBrand(ctx context.Context, brandID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	for _, m := range s.Memberships {
		if m.BrandID == brandID && m.DeletedAt == nil {
			m.DeletedAt = &now
		}
	}
	return nil
}

func (s *membershipStore) CountOwners(ctx context.Context, brandID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.Memberships {
		if m.BrandID == brandID && m.DeletedAt == nil && m.Role == models.RoleOwner {
			n++
		}
	}
	return n, nil
}

type inviteStore Store

func (s *inviteStore) Create(ctx context.Context, invite *models.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.Invites {
		if inv.BrandID == invite.BrandID && strings.EqualFold(inv.Email, invite.Email) && inv.Status == models.InvitePending {
			return repository.ErrDuplicate
		}
	}
	if invite.ID == uuid.Nil {
		invite.ID = uuid.New()
	}
	if invite.Status == "" {
		invite.Status = models.InvitePending
	}
	invite.CreatedAt = s.Now()
	cp := *invite
	s.Invites[invite.ID] = &cp
	return nil
}

func (s *inviteStore) find(match func(*models.Invite) bool) (*models.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.Invites {
		if match(inv) {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *inviteStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Invite, error) {
	return s.find(func(inv *models.Invite) bool { return inv.ID == id })
}

func (s *inviteStore) GetByTokenHash(ctx context.Context, hash string) (*models.Invite, error) {
	return s.find(func(inv *models.Invite) bool { return inv.TokenHash == hash })
}

func (s *inviteStore) FindPendingByEmail(ctx context.Context, brandID uuid.UUID, email string) (*models.Invite, error) {
	return s.find(func(inv *models.Invite) bool {
		return inv.BrandID == brandID && strings.EqualFold(inv.Email, email) && inv.Status == models.InvitePending
	})
}

func (s *inviteStore) ListPending(ctx context.Context, brandID uuid.UUID) ([]*models.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Invite{}
	for _, inv := range s.Invites {
		if inv.BrandID == brandID && inv.Status == models.InvitePending {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *inviteStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.InviteStatus, acceptedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.Invites[id]
	if !ok {
		return repository.ErrNotFound
	}
	inv.Status = status
	inv.AcceptedAt = acceptedAt
	return nil
}

type creditStore Store

func (s *creditStore) LockAccount(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Users[userID]; !ok {
		return repository.ErrNotFound
	}
	return nil
}

func (s *creditStore) Balance(ctx context.Context, userID uuid.UUID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*Store)(s).balance(userID), nil
}

func (s *creditStore) Insert(ctx context.Context, txn *models.CreditTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if txn.SourceID != nil {
		for _, t := range s.Transactions {
			if t.SourceID != nil && *t.SourceID == *txn.SourceID && t.Type == txn.Type && t.SourceType == txn.SourceType {
				return repository.ErrDuplicate
			}
		}
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	txn.CreatedAt = s.Now()
	cp := *txn
	s.Transactions = append(s.Transactions, &cp)
	return nil
}

func (s *creditStore) GetBySource(ctx context.Context, typ models.CreditTransactionType, sourceType, sourceID string) (*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.Transactions {
		if t.Type == typ && t.SourceType == sourceType && t.SourceID != nil && *t.SourceID == sourceID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *creditStore) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var mine []*models.CreditTransaction
	for i := len(s.Transactions) - 1; i >= 0; i-- {
		if s.Transactions[i].UserID == userID {
			cp := *s.Transactions[i]
			mine = append(mine, &cp)
		}
	}
	return window(mine, limit, offset), len(mine), nil
}

type analysisStore Store

func (s *analysisStore) Create(ctx context.Context, a *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Analyses {
		if existing.BrandID == a.BrandID && existing.Status.Active() {
			return repository.ErrDuplicate
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.AnalysisPending
	}
	a.CreatedAt, a.UpdatedAt = s.Now(), s.Now()
	cp := *a
	s.Analyses[a.ID] = &cp
	return nil
}

func (s *analysisStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.Analyses[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

// GetForUpdate has no row lock to take; store calls are already serialised
func (s *analysisStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	return s.GetByID(ctx, id)
}

func (s *analysisStore) sorted(match func(*models.Analysis) bool) []*models.Analysis {
	out := []*models.Analysis{}
	for _, a := range s.Analyses {
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *analysisStore) GetActiveForBrand(ctx context.Context, brandID uuid.UUID) (*models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.sorted(func(a *models.Analysis) bool { return a.BrandID == brandID && a.Status.Active() })
	if len(list) == 0 {
		return nil, repository.ErrNotFound
	}
	return list[0], nil
}

func (s *analysisStore) LatestCompleted(ctx context.Context, brandID uuid.UUID) (*models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.sorted(func(a *models.Analysis) bool { return a.BrandID == brandID && a.Status == models.AnalysisCompleted })
	if len(list) == 0 {
		return nil, repository.ErrNotFound
	}
	return list[0], nil
}

func (s *analysisStore) ListByBrand(ctx context.Context, brandID uuid.UUID, limit int) ([]*models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return window(s.sorted(func(a *models.Analysis) bool { return a.BrandID == brandID }), limit, 0), nil
}

func (s *analysisStore) ListCompleted(ctx context.Context, brandID uuid.UUID, limit int) ([]*models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return window(s.sorted(func(a *models.Analysis) bool {
		return a.BrandID == brandID && a.Status == models.AnalysisCompleted
	}), limit, 0), nil
}

func (s *analysisStore) ListStale(ctx context.Context, status models.AnalysisStatus, before time.Time) ([]*models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(a *models.Analysis) bool { return a.Status == status && a.UpdatedAt.Before(before) }), nil
}

func (s *analysisStore) TransitionStatus(ctx context.Context, id uuid.UUID, from []models.AnalysisStatus, to models.AnalysisStatus, errMsg *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Analyses[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if a.Status == f {
			a.Status = to
			if errMsg != nil {
				a.Error = errMsg
			}
			now := s.Now()
			a.UpdatedAt = now
			if !to.Active() {
				a.CompletedAt = &now
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *analysisStore) MarkRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Analyses[id]
	if !ok || !a.Status.Active() {
		return false, nil
	}
	now := s.Now()
	a.Status = models.AnalysisRunning
	if a.StartedAt == nil {
		a.StartedAt = &now
	}
	a.UpdatedAt = now
	return true, nil
}

func (s *analysisStore) IncrementProgress(ctx context.Context, id uuid.UUID, completed, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Analyses[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.CompletedSteps += completed
	a.FailedSteps += failed
	a.UpdatedAt = s.Now()
	return nil
}

func (s *analysisStore) AddRefund(ctx context.Context, id uuid.UUID, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Analyses[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.CreditsRefunded += amount
	return nil
}

func (s *analysisStore) IncrementResume(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Analyses[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.ResumeCount++
	a.UpdatedAt = s.Now()
	return nil
}

func (s *analysisStore) Finish(ctx context.Context, a *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.Analyses[a.ID]
	if !ok || !stored.Status.Active() {
		return repository.ErrNotFound
	}
	now := s.Now()
	stored.Status = a.Status
	stored.OverallScore = a.OverallScore
	stored.Error = a.Error
	stored.CompletedAt = &now
	stored.UpdatedAt = now
	a.CompletedAt, a.UpdatedAt = &now, now
	return nil
}

type resultStore Store

func (s *resultStore) Create(ctx context.Context, r *models.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Results {
		if existing.AnalysisID == r.AnalysisID && existing.Model == r.Model && existing.Stage == r.Stage {
			return repository.ErrDuplicate
		}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = s.Now()
	cp := *r
	s.Results = append(s.Results, &cp)
	return nil
}

func (s *resultStore) Exists(ctx context.Context, analysisID uuid.UUID, model models.AIModel, stage models.FunnelStage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.Results {
		if r.AnalysisID == analysisID && r.Model == model && r.Stage == stage {
			return true, nil
		}
	}
	return false, nil
}

func (s *resultStore) ListByAnalysis(ctx context.Context, analysisID uuid.UUID) ([]*models.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.AnalysisResult{}
	for _, r := range s.Results {
		if r.AnalysisID == analysisID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *resultStore) ListByBrand(ctx context.Context, brandID uuid.UUID, filter repository.ResultFilter) ([]*models.AnalysisResult, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AnalysisResult
	for i := len(s.Results) - 1; i >= 0; i-- {
		r := s.Results[i]
		if r.BrandID != brandID {
			continue
		}
		if filter.Model != "" && r.Model != filter.Model {
			continue
		}
		if filter.Stage != "" && r.Stage != filter.Stage {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return window(out, filter.Limit, filter.Offset), len(out), nil
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
