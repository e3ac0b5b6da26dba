// Package access decides what a user may do on behalf of a merchant.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"salonbook/internal/models"
)

// MemberRepository resolves merchant membership.
type MemberRepository interface {
	MemberRole(ctx context.Context, merchantID, userID string) (string, error)
}

// Service answers merchant authorization questions.
type Service struct {
	members MemberRepository
	logger  zerolog.Logger
}

func NewService(members MemberRepository, logger zerolog.Logger) *Service {
	return &Service{
		members: members,
		logger:  logger.With().Str("component", "access").Logger(),
	}
}

// Role returns the user's role at the merchant, or "" for non-members.
func (s *Service) Role(ctx context.Context, merchantID, userID string) (string, error) {
	if userID == "" || userID == models.SystemActor {
		return "", nil
	}
	role, err := s.members.MemberRole(ctx, merchantID, userID)
	if errors.Is(err, models.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("checking membership: %w", err)
	}
	return role, nil
}

// CanManage reports whether the user is an owner or staff member of the merchant.
func (s *Service) CanManage(ctx context.Context, merchantID, userID string) (bool, error) {
	role, err := s.Role(ctx, merchantID, userID)
	if err != nil {
		return false, err
	}
	return role == models.RoleOwner || role == models.RoleStaff, nil
}

// IsOwner reports whether the user owns the merchant.
func (s *Service) IsOwner(ctx context.Context, merchantID, userID string) (bool, error) {
	role, err := s.Role(ctx, merchantID, userID)
	if err != nil {
		return false, err
	}
	return role == models.RoleOwner, nil
}

// RequireMember returns an *AccessDeniedError unless the user can manage the merchant.
func (s *Service) RequireMember(ctx context.Context, merchantID, userID string) error {
	ok, err := s.CanManage(ctx, merchantID, userID)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Debug().Str("merchant_id", merchantID).Str("user_id", userID).Msg("member check denied")
		return &AccessDeniedError{Reason: "only merchant members may do this"}
	}
	return nil
}

// AccessDeniedError is returned when a user lacks merchant permissions.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return e.Reason
}

func (e *AccessDeniedError) Unwrap() error {
	return models.ErrForbidden
}

// IsAccessDenied checks if error is access denied.
func IsAccessDenied(err error) bool {
	var denied *AccessDeniedError
	return errors.As(err, &denied)
}
