package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/covault/internal/common"
	"github.com/bobmcallan/covault/internal/models"
)

// GrantStore manages the device grant ledger in the "grant" table.
// Grants are only ever created pending, flipped to approved in place, or
// deleted; deletion is the revocation.
type GrantStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewGrantStore(db *surrealdb.DB, logger *common.Logger) *GrantStore {
	return &GrantStore{
		db:     db,
		logger: logger,
	}
}

func (s *GrantStore) Create(ctx context.Context, grant *models.DeviceGrant) error {
	sql := "UPSERT type::record('grant', $id) CONTENT $grant"
	vars := map[string]any{"id": grant.GrantID, "grant": grant}

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]models.DeviceGrant](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		if attempt == 3 {
			return fmt.Errorf("failed to save grant after retries: %w", err)
		}
	}
	return nil
}

func (s *GrantStore) Get(ctx context.Context, grantID string) (*models.DeviceGrant, error) {
	grant, err := surrealdb.Select[models.DeviceGrant](ctx, s.db, surrealmodels.NewRecordID("grant", grantID))
	if err != nil {
		return nil, fmt.Errorf("failed to select grant: %w", err)
	}
	if grant == nil || grant.GrantID == "" {
		return nil, nil
	}
	return grant, nil
}

// Approve flips the grant to approved as a single document update. The
// update is guarded on the current state, so racing approvals cannot
// rewrite approved_at or approved_by: whoever lands first wins and every
// later approve returns the record unchanged.
func (s *GrantStore) Approve(ctx context.Context, grantID, approvedBy string) (*models.DeviceGrant, error) {
	sql := "UPDATE type::record('grant', $id) SET state = $state, approved_at = $at, approved_by = $by WHERE state != $state"
	vars := map[string]any{
		"id":    grantID,
		"state": models.GrantStateApproved,
		"at":    time.Now().UTC(),
		"by":    approvedBy,
	}

	results, err := surrealdb.Query[[]models.DeviceGrant](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to approve grant: %w", err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return &(*results)[0].Result[0], nil
	}
	// The guard matched nothing: the grant is either missing or already
	// approved. Re-read to tell the two apart.
	return s.Get(ctx, grantID)
}

func (s *GrantStore) Delete(ctx context.Context, grantID string) error {
	_, err := surrealdb.Delete[models.DeviceGrant](ctx, s.db, surrealmodels.NewRecordID("grant", grantID))
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	return nil
}

func (s *GrantStore) ListByOwner(ctx context.Context, ownerID string, state string) ([]*models.DeviceGrant, error) {
	sql := "SELECT * FROM grant WHERE owner_id = $owner_id ORDER BY requested_at ASC"
	vars := map[string]any{"owner_id": ownerID}
	if state != "" {
		sql = "SELECT * FROM grant WHERE owner_id = $owner_id AND state = $state ORDER BY requested_at ASC"
		vars["state"] = state
	}
	return s.query(ctx, sql, vars)
}

func (s *GrantStore) ListByRequester(ctx context.Context, requesterID string) ([]*models.DeviceGrant, error) {
	sql := "SELECT * FROM grant WHERE requester_id = $requester_id ORDER BY requested_at ASC"
	vars := map[string]any{"requester_id": requesterID}
	return s.query(ctx, sql, vars)
}

func (s *GrantStore) DeleteByRequester(ctx context.Context, requesterID string) (int, error) {
	sql := "DELETE grant WHERE requester_id = $requester_id RETURN BEFORE"
	vars := map[string]any{"requester_id": requesterID}
	return s.deleteMany(ctx, sql, vars)
}

func (s *GrantStore) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	sql := "DELETE grant WHERE owner_id = $owner_id RETURN BEFORE"
	vars := map[string]any{"owner_id": ownerID}
	return s.deleteMany(ctx, sql, vars)
}

func (s *GrantStore) query(ctx context.Context, sql string, vars map[string]any) ([]*models.DeviceGrant, error) {
	results, err := surrealdb.Query[[]models.DeviceGrant](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}

	var grants []*models.DeviceGrant
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			grants = append(grants, &(*results)[0].Result[i])
		}
	}
	return grants, nil
}

func (s *GrantStore) deleteMany(ctx context.Context, sql string, vars map[string]any) (int, error) {
	results, err := surrealdb.Query[[]models.DeviceGrant](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to delete grants: %w", err)
	}
	if results != nil && len(*results) > 0 {
		return len((*results)[0].Result), nil
	}
	return 0, nil
}
