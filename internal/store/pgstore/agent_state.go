package pgstore

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/models"
)

func (s *Store) GetAgentState(ctx context.Context, tenantID, agentName string) (*models.AgentState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM agent_states WHERE tenant_id = $1 AND agent_name = $2`,
		tenantID, agentName).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, &store.ErrNotFound{Entity: "agent_state", Key: tenantID + "/" + agentName}
	}
	if err != nil {
		return nil, err
	}
	var st models.AgentState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) ListAgentStates(ctx context.Context, tenantID string) ([]models.AgentState, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM agent_states WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AgentState
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var st models.AgentState
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) CreateAgentState(ctx context.Context, state *models.AgentState) error {
	return s.upsertAgentState(ctx, state)
}

func (s *Store) UpdateAgentState(ctx context.Context, state *models.AgentState) error {
	return s.upsertAgentState(ctx, state)
}

func (s *Store) upsertAgentState(ctx context.Context, st *models.AgentState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO agent_states (tenant_id, agent_name, doc) VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, agent_name) DO UPDATE SET doc = EXCLUDED.doc`,
		st.TenantID, st.AgentName, raw)
	return err
}
