package tokenauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/covault/internal/common"
	"github.com/bobmcallan/covault/internal/interfaces"
	"github.com/bobmcallan/covault/internal/models"
)

var (
	// ErrInvalidOwnerToken covers every failure of the owner email and
	// shared token pair. Deliberately indistinguishable: a requester
	// cannot tell a wrong email from a wrong or rotated token.
	ErrInvalidOwnerToken = errors.New("invalid owner email or access token")

	// ErrSelfAccess is returned when an account presents its own token.
	ErrSelfAccess = errors.New("cannot request device access to your own vault")

	// ErrGrantNotFound is returned when a grant does not exist or is
	// not visible to the caller. A requester seeing this must treat the
	// grant as rejected or revoked.
	ErrGrantNotFound = errors.New("grant not found")

	// ErrNotOwner is returned when an account tries to manage a grant
	// against someone else's vault.
	ErrNotOwner = errors.New("grant belongs to another vault")
)

// Service implements interfaces.TokenAuthService on top of the grant
// ledger and the sealed-token account lookup.
type Service struct {
	storage interfaces.StorageManager
	codec   *SecretCodec
	mailer  interfaces.Mailer
	logger  *common.Logger
}

// NewService creates a token auth service. The mailer may be nil.
func NewService(storage interfaces.StorageManager, codec *SecretCodec, mailer interfaces.Mailer, logger *common.Logger) *Service {
	if logger == nil {
		logger = common.NewDefaultLogger()
	}
	return &Service{
		storage: storage,
		codec:   codec,
		mailer:  mailer,
		logger:  logger,
	}
}

// TokenLogin validates the owner email and shared token pair and records
// a pending grant. The requester polls Status until the owner decides.
func (s *Service) TokenLogin(ctx context.Context, req interfaces.TokenLoginRequest) (*models.DeviceGrant, error) {
	token := strings.TrimSpace(req.Token)
	email := strings.ToLower(strings.TrimSpace(req.OwnerEmail))
	if token == "" || email == "" {
		return nil, ErrInvalidOwnerToken
	}

	sealed, err := s.codec.Seal(token)
	if err != nil {
		return nil, fmt.Errorf("failed to seal token: %w", err)
	}

	owner, err := s.storage.InternalStore().FindUserBySealedToken(ctx, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}
	if owner == nil || !strings.EqualFold(owner.Email, email) {
		return nil, ErrInvalidOwnerToken
	}

	if owner.UserID == req.RequesterID {
		return nil, ErrSelfAccess
	}

	now := time.Now().UTC()
	grant := &models.DeviceGrant{
		GrantID:       uuid.New().String(),
		OwnerID:       owner.UserID,
		RequesterID:   req.RequesterID,
		Device:        strings.TrimSpace(req.Device),
		Origin:        req.Origin,
		State:         models.GrantStatePending,
		RequestedAt:   now,
		ScopeOverride: append([]string(nil), owner.SelectedFolders...),
	}

	if err := s.storage.GrantStore().Create(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to record grant: %w", err)
	}

	s.logger.Info().
		Str("grant_id", grant.GrantID).
		Str("owner_id", owner.UserID).
		Str("requester_id", req.RequesterID).
		Str("device", grant.Device).
		Msg("Device access requested")

	s.notifyOwner(ctx, owner, grant)

	return grant, nil
}

// notifyOwner sends the pending-approval mail. Best effort.
func (s *Service) notifyOwner(ctx context.Context, owner *models.InternalUser, grant *models.DeviceGrant) {
	if s.mailer == nil {
		return
	}

	requesterEmail := grant.RequesterID
	if requester, err := s.storage.InternalStore().GetUser(ctx, grant.RequesterID); err == nil && requester != nil {
		requesterEmail = requester.Email
	}

	if err := s.mailer.SendGrantRequested(ctx, owner.Email, requesterEmail, grant.Device); err != nil {
		s.logger.Warn().Err(err).
			Str("grant_id", grant.GrantID).
			Msg("Failed to send grant notification")
	}
}

// Approve transitions a pending grant to approved. Idempotent.
func (s *Service) Approve(ctx context.Context, ownerID, grantID string) (*models.DeviceGrant, error) {
	grant, err := s.ownedGrant(ctx, ownerID, grantID)
	if err != nil {
		return nil, err
	}

	if grant.IsApproved() {
		return grant, nil
	}

	approved, err := s.storage.GrantStore().Approve(ctx, grantID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to approve grant: %w", err)
	}
	if approved == nil {
		return nil, ErrGrantNotFound
	}

	s.logger.Info().
		Str("grant_id", grantID).
		Str("owner_id", ownerID).
		Str("requester_id", approved.RequesterID).
		Msg("Device grant approved")

	return approved, nil
}

// Remove deletes a grant. Rejection and revocation are the same
// operation; which one it was only depends on the state the grant was in.
func (s *Service) Remove(ctx context.Context, ownerID, grantID string) error {
	grant, err := s.ownedGrant(ctx, ownerID, grantID)
	if err != nil {
		return err
	}

	if err := s.storage.GrantStore().Delete(ctx, grantID); err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}

	s.logger.Info().
		Str("grant_id", grantID).
		Str("owner_id", ownerID).
		Str("state", grant.State).
		Msg("Device grant removed")

	return nil
}

// Cancel deletes every grant the requester holds.
func (s *Service) Cancel(ctx context.Context, requesterID string) (int, error) {
	count, err := s.storage.GrantStore().DeleteByRequester(ctx, requesterID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel grants: %w", err)
	}

	if count > 0 {
		s.logger.Info().
			Str("requester_id", requesterID).
			Int("count", count).
			Msg("Device grants cancelled by requester")
	}

	return count, nil
}

// Status re-resolves a grant for its requester. Ownership of the grant
// by someone else and absence of the grant look identical to the caller.
func (s *Service) Status(ctx context.Context, requesterID, grantID string) (*models.GrantStatus, error) {
	grant, err := s.storage.GrantStore().Get(ctx, grantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load grant: %w", err)
	}
	if grant == nil || grant.RequesterID != requesterID {
		return nil, ErrGrantNotFound
	}

	status := &models.GrantStatus{
		GrantID:     grant.GrantID,
		State:       grant.State,
		RequestedAt: grant.RequestedAt,
		ApprovedAt:  grant.ApprovedAt,
	}
	if owner, err := s.storage.InternalStore().GetUser(ctx, grant.OwnerID); err == nil && owner != nil {
		status.OwnerEmail = owner.Email
	}

	return status, nil
}

// Grants lists the owner's grants, optionally filtered by state.
func (s *Service) Grants(ctx context.Context, ownerID, state string) ([]*models.DeviceGrant, error) {
	grants, err := s.storage.GrantStore().ListByOwner(ctx, ownerID, state)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return grants, nil
}

// RegenerateToken mints and seals a new shared access token. Every
// outstanding grant against the vault is removed: the old token and
// everything approved under it stop working together.
func (s *Service) RegenerateToken(ctx context.Context, ownerID string) (string, error) {
	owner, err := s.storage.InternalStore().GetUser(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("failed to load account: %w", err)
	}
	if owner == nil {
		return "", fmt.Errorf("account %s not found", ownerID)
	}

	token, err := NewAccessToken()
	if err != nil {
		return "", err
	}
	sealed, err := s.codec.Seal(token)
	if err != nil {
		return "", fmt.Errorf("failed to seal token: %w", err)
	}

	owner.SealedToken = sealed
	owner.ModifiedAt = time.Now().UTC()
	if err := s.storage.InternalStore().SaveUser(ctx, owner); err != nil {
		return "", fmt.Errorf("failed to save account: %w", err)
	}

	removed, err := s.storage.GrantStore().DeleteByOwner(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("failed to clear grants: %w", err)
	}

	s.logger.Info().
		Str("owner_id", ownerID).
		Int("grants_removed", removed).
		Msg("Shared access token regenerated")

	return token, nil
}

// ownedGrant loads a grant and verifies the caller owns it.
func (s *Service) ownedGrant(ctx context.Context, ownerID, grantID string) (*models.DeviceGrant, error) {
	grant, err := s.storage.GrantStore().Get(ctx, grantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load grant: %w", err)
	}
	if grant == nil {
		return nil, ErrGrantNotFound
	}
	if grant.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return grant, nil
}

var _ interfaces.TokenAuthService = (*Service)(nil)
