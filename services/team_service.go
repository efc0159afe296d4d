// services/team_service.go
package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/config"
	"github.com/brandviz/brandviz/internal/email"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/repository"
)

const (
	inviteTTL        = 7 * 24 * time.Hour
	inviteTokenBytes = 32
)

type teamService struct {
	cfg    *config.Config
	repos  *repository.Manager
	mailer email.Sender
	logger zerolog.Logger
	now    func() time.Time
}

func NewTeamService(cfg *config.Config, repos *repository.Manager, mailer email.Sender, logger zerolog.Logger) TeamService {
	return &teamService{
		cfg:    cfg,
		repos:  repos,
		mailer: mailer,
		logger: logger.With().Str("component", "team").Logger(),
		now:    time.Now,
	}
}

func (s *teamService) ListMembers(ctx context.Context, user *models.User, brandID uuid.UUID) ([]*models.MemberView, error) {
	if _, _, err := authorize(ctx, s.repos, user, brandID, accessView); err != nil {
		return nil, err
	}
	members, err := s.repos.Memberships.ListByBrand(ctx, brandID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

func (s *teamService) ChangeRole(ctx context.Context, user *models.User, brandID, memberID uuid.UUID, role models.Role) error {
	if !role.Valid() {
		return apperr.Validation(map[string]string{"role": "oneof owner admin viewer"})
	}
	if _, _, err := authorize(ctx, s.repos, user, brandID, accessOwner); err != nil {
		return err
	}

	return s.repos.WithinTx(ctx, func(repos *repository.Manager) error {
		target, err := repos.Memberships.Get(ctx, brandID, memberID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("member not found")
		}
		if err != nil {
			return fmt.Errorf("failed to load member: %w", err)
		}
		if target.Role == role {
			return nil
		}

		if target.Role == models.RoleOwner {
			owners, err := repos.Memberships.CountOwners(ctx, brandID)
			if err != nil {
				return fmt.Errorf("failed to count owners: %w", err)
			}
			if owners <= 1 {
				return apperr.Conflict("cannot demote the last owner")
			}
		}

		if err := repos.Memberships.UpdateRole(ctx, brandID, memberID, role); err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		s.logger.Info().Str("brand_id", brandID.String()).Str("member_id", memberID.String()).Str("role", string(role)).Msg("member role changed")
		return nil
	})
}

func (s *teamService) RemoveMember(ctx context.Context, user *models.User, brandID, memberID uuid.UUID) error {
	level := accessManage
	if memberID == user.ID {
		// anyone may leave
		level = accessView
	}
	_, caller, err := authorize(ctx, s.repos, user, brandID, level)
	if err != nil {
		return err
	}

	return s.repos.WithinTx(ctx, func(repos *repository.Manager) error {
		target, err := repos.Memberships.Get(ctx, brandID, memberID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("member not found")
		}
		if err != nil {
			return fmt.Errorf("failed to load member: %w", err)
		}

		if target.Role == models.RoleOwner {
			if memberID != user.ID && caller.Role != models.RoleOwner {
				return apperr.Forbidden("admins cannot remove owners")
			}
			owners, err := repos.Memberships.CountOwners(ctx, brandID)
			if err != nil {
				return fmt.Errorf("failed to count owners: %w", err)
			}
			if owners <= 1 {
				return apperr.Conflict("cannot remove the last owner")
			}
		}

		if err := repos.Memberships.SoftDelete(ctx, brandID, memberID); err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}
		s.logger.Info().Str("brand_id", brandID.String()).Str("member_id", memberID.String()).Str("by", user.ID.String()).Msg("member removed")
		return nil
	})
}

func (s *teamService) CreateInvite(ctx context.Context, user *models.User, brandID uuid.UUID, emailAddr string, role models.Role) (*models.Invite, error) {
	if role != models.RoleAdmin && role != models.RoleViewer {
		return nil, apperr.Validation(map[string]string{"role": "oneof admin viewer"})
	}
	brand, _, err := authorize(ctx, s.repos, user, brandID, accessManage)
	if err != nil {
		return nil, err
	}
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))

	token, hash, err := newInviteToken()
	if err != nil {
		return nil, err
	}
	invite := &models.Invite{
		BrandID:   brandID,
		Email:     emailAddr,
		Role:      role,
		TokenHash: hash,
		InvitedBy: user.ID,
		Status:    models.InvitePending,
		ExpiresAt: s.now().Add(inviteTTL),
	}

	err = s.repos.WithinTx(ctx, func(repos *repository.Manager) error {
		if existing, err := repos.Users.GetByEmail(ctx, emailAddr); err == nil {
			if _, err := repos.Memberships.Get(ctx, brandID, existing.ID); err == nil {
				return apperr.Conflict("%s is already a member of this brand", emailAddr)
			} else if !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("failed to check membership: %w", err)
			}
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to look up invitee: %w", err)
		}

		pending, err := repos.Invites.FindPendingByEmail(ctx, brandID, emailAddr)
		switch {
		case err == nil && pending.ExpiresAt.After(s.now()):
			return apperr.Conflict("an invite is already pending for %s", emailAddr)
		case err == nil:
			if err := repos.Invites.UpdateStatus(ctx, pending.ID, models.InviteExpired, nil); err != nil {
				return fmt.Errorf("failed to expire old invite: %w", err)
			}
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("failed to check pending invites: %w", err)
		}

		if err := repos.Invites.Create(ctx, invite); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Conflict("an invite is already pending for %s", emailAddr)
			}
			return fmt.Errorf("failed to create invite: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	msg, err := email.InviteMessage(emailAddr, email.InviteData{
		BrandName:   brand.Name,
		InviterName: user.Name,
		Role:        string(role),
		AcceptURL:   email.AcceptURL(s.cfg.AppURL, token),
		ExpiresAt:   invite.ExpiresAt,
	})
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		// the invite stays valid and can be revoked and re-sent
		s.logger.Error().Err(err).Str("invite_id", invite.ID.String()).Msg("failed to send invite email")
	}

	s.logger.Info().Str("brand_id", brandID.String()).Str("invite_id", invite.ID.String()).Str("role", string(role)).Msg("invite created")
	return invite, nil
}

func (s *teamService) ListInvites(ctx context.Context, user *models.User, brandID uuid.UUID) ([]*models.Invite, error) {
	if _, _, err := authorize(ctx, s.repos, user, brandID, accessManage); err != nil {
		return nil, err
	}
	invites, err := s.repos.Invites.ListPending(ctx, brandID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}

	live := make([]*models.Invite, 0, len(invites))
	for _, inv := range invites {
		if inv.ExpiresAt.After(s.now()) {
			live = append(live, inv)
		}
	}
	return live, nil
}

func (s *teamService) RevokeInvite(ctx context.Context, user *models.User, brandID, inviteID uuid.UUID) error {
	if _, _, err := authorize(ctx, s.repos, user, brandID, accessManage); err != nil {
		return err
	}

	invite, err := s.repos.Invites.GetByID(ctx, inviteID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && invite.BrandID != brandID) {
		return apperr.NotFound("invite not found")
	}
	if err != nil {
		return fmt.Errorf("failed to load invite: %w", err)
	}
	if invite.Status != models.InvitePending {
		return apperr.Conflict("invite is already %s", invite.Status)
	}

	if err := s.repos.Invites.UpdateStatus(ctx, inviteID, models.InviteRevoked, nil); err != nil {
		return fmt.Errorf("failed to revoke invite: %w", err)
	}
	return nil
}

func (s *teamService) AcceptInvite(ctx context.Context, user *models.User, token string) (*models.Membership, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Validation(map[string]string{"token": "required"})
	}

	var (
		membership *models.Membership
		expired    bool
	)
	err := s.repos.WithinTx(ctx, func(repos *repository.Manager) error {
		invite, err := repos.Invites.GetByTokenHash(ctx, hashInviteToken(token))
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("invite not found")
		}
		if err != nil {
			return fmt.Errorf("failed to load invite: %w", err)
		}

		switch invite.Status {
		case models.InvitePending:
		case models.InviteExpired:
			return apperr.BadRequest("invite expired")
		default:
			return apperr.Conflict("invite is already %s", invite.Status)
		}
		if !invite.ExpiresAt.After(s.now()) {
			// commit the status change, then report the expiry
			expired = true
			if err := repos.Invites.UpdateStatus(ctx, invite.ID, models.InviteExpired, nil); err != nil {
				return fmt.Errorf("failed to expire invite: %w", err)
			}
			return nil
		}
		if !strings.EqualFold(invite.Email, user.Email) {
			return apperr.Forbidden("this invite was sent to a different email address")
		}

		if _, err := repos.Brands.GetByID(ctx, invite.BrandID); errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("brand no longer exists")
		} else if err != nil {
			return fmt.Errorf("failed to load brand: %w", err)
		}

		membership = &models.Membership{BrandID: invite.BrandID, UserID: user.ID, Role: invite.Role}
		if err := repos.Memberships.Create(ctx, membership); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Conflict("you are already a member of this brand")
			}
			return fmt.Errorf("failed to create membership: %w", err)
		}

		acceptedAt := s.now()
		if err := repos.Invites.UpdateStatus(ctx, invite.ID, models.InviteAccepted, &acceptedAt); err != nil {
			return fmt.Errorf("failed to mark invite accepted: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, apperr.BadRequest("invite expired")
	}

	s.logger.Info().Str("brand_id", membership.BrandID.String()).Str("user_id", user.ID.String()).Msg("invite accepted")
	return membership, nil
}

// newInviteToken returns a random URL-safe token and the hash stored for it
func newInviteToken() (string, string, error) {
	buf := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate invite token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return token, hashInviteToken(token), nil
}

func hashInviteToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
