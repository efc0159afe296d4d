// services/brand_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/repository"
)

const maxSlugAttempts = 50

type brandService struct {
	repos  *repository.Manager
	logger zerolog.Logger
}

func NewBrandService(repos *repository.Manager, logger zerolog.Logger) BrandService {
	return &brandService{
		repos:  repos,
		logger: logger.With().Str("component", "brands").Logger(),
	}
}

func (s *brandService) Create(ctx context.Context, user *models.User, input BrandInput) (*BrandView, error) {
	brand := &models.Brand{
		ID:              uuid.New(),
		OwnerID:         user.ID,
		Name:            strings.TrimSpace(input.Name),
		Website:         strings.TrimSpace(input.Website),
		Industry:        strings.TrimSpace(input.Industry),
		Description:     strings.TrimSpace(input.Description),
		Competitors:     cleanList(input.Competitors),
		Keywords:        cleanList(input.Keywords),
		Region:          strings.TrimSpace(input.Region),
		AutoAnalysis:    input.AutoAnalysis,
		AnalysisWeekday: input.AnalysisWeekday,
	}
	if brand.Name == "" {
		return nil, apperr.Validation(map[string]string{"name": "required"})
	}
	if brand.AutoAnalysis && brand.AnalysisWeekday == nil {
		return nil, apperr.Validation(map[string]string{"analysis_weekday": "required when auto_analysis is enabled"})
	}

	err := s.repos.WithinTx(ctx, func(repos *repository.Manager) error {
		slugValue, err := uniqueSlug(ctx, repos.Brands, brand.Name)
		if err != nil {
			return err
		}
		brand.Slug = slugValue

		if err := repos.Brands.Create(ctx, brand); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Conflict("a brand with slug %q already exists", brand.Slug)
			}
			return fmt.Errorf("failed to create brand: %w", err)
		}

		owner := &models.Membership{BrandID: brand.ID, UserID: user.ID, Role: models.RoleOwner}
		if err := repos.Memberships.Create(ctx, owner); err != nil {
			return fmt.Errorf("failed to create owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("brand_id", brand.ID.String()).Str("slug", brand.Slug).Str("user_id", user.ID.String()).Msg("brand created")
	return &BrandView{Brand: brand, Role: models.RoleOwner}, nil
}

func (s *brandService) Get(ctx context.Context, user *models.User, brandID uuid.UUID) (*BrandView, error) {
	brand, membership, err := authorize(ctx, s.repos, user, brandID, accessView)
	if err != nil {
		return nil, err
	}
	return &BrandView{Brand: brand, Role: membership.Role}, nil
}

func (s *brandService) List(ctx context.Context, user *models.User) ([]*BrandView, error) {
	brands, err := s.repos.Brands.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}

	views := make([]*BrandView, 0, len(brands))
	for _, b := range brands {
		membership, err := s.repos.Memberships.Get(ctx, b.ID, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load membership for brand %s: %w", b.ID, err)
		}
		views = append(views, &BrandView{Brand: b, Role: membership.Role})
	}
	return views, nil
}

func (s *brandService) Update(ctx context.Context, user *models.User, brandID uuid.UUID, patch BrandPatch) (*BrandView, error) {
	brand, membership, err := authorize(ctx, s.repos, user, brandID, accessManage)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperr.Validation(map[string]string{"name": "required"})
		}
		brand.Name = name
	}
	if patch.Website != nil {
		brand.Website = strings.TrimSpace(*patch.Website)
	}
	if patch.Industry != nil {
		brand.Industry = strings.TrimSpace(*patch.Industry)
	}
	if patch.Description != nil {
		brand.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Competitors != nil {
		brand.Competitors = cleanList(*patch.Competitors)
	}
	if patch.Keywords != nil {
		brand.Keywords = cleanList(*patch.Keywords)
	}
	if patch.Region != nil {
		brand.Region = strings.TrimSpace(*patch.Region)
	}
	if patch.AutoAnalysis != nil {
		brand.AutoAnalysis = *patch.AutoAnalysis
	}
	if patch.AnalysisWeekday != nil {
		weekday := *patch.AnalysisWeekday
		brand.AnalysisWeekday = &weekday
	}
	if brand.AutoAnalysis && brand.AnalysisWeekday == nil {
		return nil, apperr.Validation(map[string]string{"analysis_weekday": "required when auto_analysis is enabled"})
	}

	if err := s.repos.Brands.Update(ctx, brand); err != nil {
		return nil, fmt.Errorf("failed to update brand: %w", err)
	}
	return &BrandView{Brand: brand, Role: membership.Role}, nil
}

func (s *brandService) Delete(ctx context.Context, user *models.User, brandID uuid.UUID) error {
	if _, _, err := authorize(ctx, s.repos, user, brandID, accessOwner); err != nil {
		return err
	}

	err := s.repos.WithinTx(ctx, func(repos *repository.Manager) error {
		if active, err := repos.Analyses.GetActiveForBrand(ctx, brandID); err == nil {
			return apperr.Conflict("analysis %s is still running; cancel it first", active.ID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to check active analysis: %w", err)
		}

		if err := repos.Memberships.SoftDeleteByBrand(ctx, brandID); err != nil {
			return fmt.Errorf("failed to remove memberships: %w", err)
		}
		if err := repos.Brands.SoftDelete(ctx, brandID); err != nil {
			return fmt.Errorf("failed to delete brand: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("brand_id", brandID.String()).Str("user_id", user.ID.String()).Msg("brand deleted")
	return nil
}

// uniqueSlug derives a slug from name, appending -2, -3, ... while it is taken
func uniqueSlug(ctx context.Context, brands repository.BrandRepository, name string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "brand"
	}

	candidate := base
	for i := 2; i <= maxSlugAttempts+1; i++ {
		exists, err := brands.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
	return base + "-" + uuid.NewString()[:8], nil
}

// cleanList trims entries and drops blanks and case-insensitive duplicates
func cleanList(items []string) pq.StringArray {
	out := pq.StringArray{}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}
