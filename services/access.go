// services/access.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/repository"
)

type accessLevel int

const (
	accessView accessLevel = iota
	accessManage
	accessOwner
)

// authorize loads the brand and the caller's membership. Non-members get a
// not found error so brand IDs are not disclosed.
func authorize(ctx context.Context, repos *repository.Manager, user *models.User, brandID uuid.UUID, level accessLevel) (*models.Brand, *models.Membership, error) {
	if user == nil {
		return nil, nil, apperr.Unauthorized("authentication required")
	}

	brand, err := repos.Brands.GetByID(ctx, brandID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, apperr.NotFound("brand not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load brand %s: %w", brandID, err)
	}

	membership, err := repos.Memberships.Get(ctx, brandID, user.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, apperr.NotFound("brand not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load membership: %w", err)
	}

	switch level {
	case accessManage:
		if !membership.Role.CanManage() {
			return nil, nil, apperr.Forbidden("owner or admin role required")
		}
	case accessOwner:
		if membership.Role != models.RoleOwner {
			return nil, nil, apperr.Forbidden("owner role required")
		}
	}
	return brand, membership, nil
}
