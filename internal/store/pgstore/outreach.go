package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/models"
)

func (s *Store) GetOutreach(ctx context.Context, id string) (*models.Outreach, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM outreach WHERE id = $1`, id).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, &store.ErrNotFound{Entity: "outreach", Key: id}
	}
	if err != nil {
		return nil, err
	}
	var o models.Outreach
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) ListOutreach(ctx context.Context, tenantID string, filter store.OutreachFilter) ([]models.Outreach, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM outreach WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []models.Outreach
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var o models.Outreach
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Channel != "" && o.Channel != filter.Channel {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.Since != nil && o.CreatedAt.Before(*filter.Since) {
			continue
		}
		all = append(all, o)
	}
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, rows.Err()
}

func (s *Store) CreateOutreach(ctx context.Context, outreach *models.Outreach) error {
	return s.upsertOutreach(ctx, outreach)
}

func (s *Store) UpdateOutreach(ctx context.Context, outreach *models.Outreach) error {
	return s.upsertOutreach(ctx, outreach)
}

func (s *Store) upsertOutreach(ctx context.Context, o *models.Outreach) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	var providerMessageID *string
	if o.Delivery.ProviderMessageID != "" {
		providerMessageID = &o.Delivery.ProviderMessageID
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO outreach (id, tenant_id, customer_id, status,
			provider_message_id, created_at, expires_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status,
			provider_message_id = EXCLUDED.provider_message_id, doc = EXCLUDED.doc`,
		o.ID, o.TenantID, o.CustomerID, string(o.Status), providerMessageID, o.CreatedAt, o.ExpiresAt, raw)
	return err
}

func (s *Store) CountOutreachSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outreach WHERE tenant_id = $1
		AND created_at >= $2`, tenantID, since).Scan(&count)
	return count, err
}

func (s *Store) LastOutreachTo(ctx context.Context, tenantID, customerID string) (*models.Outreach, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM outreach WHERE tenant_id = $1 AND customer_id = $2
		ORDER BY created_at DESC LIMIT 1`, tenantID, customerID).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o models.Outreach
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) ListExpiringOutreach(ctx context.Context, before time.Time) ([]models.Outreach, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM outreach WHERE expires_at <= $1`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Outreach
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var o models.Outreach
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// FindOutreachByPhone scans across tenants for the newest outreach sent to
// phone since the given time. Outreach rows are keyed for per-tenant access
// patterns, so this cross-tenant lookup reads the whole recent window and
// filters in Go rather than adding a global phone index for one caller.
func (s *Store) FindOutreachByPhone(ctx context.Context, phone string, since time.Time) (*models.Outreach, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM outreach WHERE created_at >= $1 ORDER BY created_at DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var o models.Outreach
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
		if o.CustomerPhone == phone {
			return &o, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, &store.ErrNotFound{Entity: "outreach", Key: phone}
}

func (s *Store) GetOutreachByProviderMessageID(ctx context.Context, providerMessageID string) (*models.Outreach, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM outreach WHERE provider_message_id = $1`,
		providerMessageID).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, &store.ErrNotFound{Entity: "outreach", Key: providerMessageID}
	}
	if err != nil {
		return nil, err
	}
	var o models.Outreach
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
