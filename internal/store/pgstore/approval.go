package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/models"
)

func (s *Store) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM approvals WHERE id = $1`, id).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, &store.ErrNotFound{Entity: "approval", Key: id}
	}
	if err != nil {
		return nil, err
	}
	var a models.Approval
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListApprovals(ctx context.Context, tenantID string, status models.ApprovalStatus, limit int) ([]models.Approval, error) {
	var rows pgx.Rows
	var err error
	if status != "" {
		rows, err = s.pool.Query(ctx, `SELECT doc FROM approvals WHERE tenant_id = $1 AND status = $2
			ORDER BY created_at DESC`, tenantID, string(status))
	} else {
		rows, err = s.pool.Query(ctx, `SELECT doc FROM approvals WHERE tenant_id = $1
			ORDER BY created_at DESC`, tenantID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Approval
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a models.Approval
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *Store) CreateApproval(ctx context.Context, approval *models.Approval) error {
	return s.upsertApproval(ctx, approval)
}

func (s *Store) UpdateApproval(ctx context.Context, approval *models.Approval) error {
	return s.upsertApproval(ctx, approval)
}

func (s *Store) upsertApproval(ctx context.Context, a *models.Approval) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO approvals (id, tenant_id, status, expires_at, doc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at, doc = EXCLUDED.doc`,
		a.ID, a.TenantID, string(a.Status), a.ExpiresAt, raw)
	return err
}

func (s *Store) ListExpiredApprovals(ctx context.Context, before time.Time) ([]models.Approval, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM approvals WHERE expires_at <= $1
		AND status = $2`, before, string(models.ApprovalPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Approval
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a models.Approval
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
