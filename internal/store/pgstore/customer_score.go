package pgstore

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/models"
)

func (s *Store) GetCustomerScore(ctx context.Context, tenantID, customerID string) (*models.CustomerScore, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM customer_scores WHERE tenant_id = $1 AND customer_id = $2`,
		tenantID, customerID).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, &store.ErrNotFound{Entity: "customer_score", Key: tenantID + "/" + customerID}
	}
	if err != nil {
		return nil, err
	}
	var c models.CustomerScore
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCustomerScores(ctx context.Context, tenantID string, segment models.CustomerSegment) ([]models.CustomerScore, error) {
	var rows pgx.Rows
	var err error
	if segment != "" {
		rows, err = s.pool.Query(ctx, `SELECT doc FROM customer_scores WHERE tenant_id = $1 AND segment = $2`,
			tenantID, string(segment))
	} else {
		rows, err = s.pool.Query(ctx, `SELECT doc FROM customer_scores WHERE tenant_id = $1`, tenantID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CustomerScore
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var c models.CustomerScore
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpsertCustomerScore(ctx context.Context, score *models.CustomerScore) error {
	raw, err := json.Marshal(score)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO customer_scores (tenant_id, customer_id, segment, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, customer_id) DO UPDATE SET segment = EXCLUDED.segment, doc = EXCLUDED.doc`,
		score.TenantID, score.CustomerID, string(score.Segment), raw)
	return err
}
