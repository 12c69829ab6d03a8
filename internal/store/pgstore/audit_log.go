package pgstore

import (
	"context"
	"encoding/json"

	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/models"
)

func (s *Store) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO audit_logs (id, tenant_id, event_type, severity,
			actor_id, timestamp, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.TenantID, entry.EventType, string(entry.Severity), entry.ActorID,
		entry.Timestamp, raw)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, filter store.AuditFilter) ([]models.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM audit_logs WHERE tenant_id = $1
		ORDER BY timestamp DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []models.AuditLog
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a models.AuditLog
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		if !matchesAuditFilter(a, filter) {
			continue
		}
		all = append(all, a)
		if filter.Limit > 0 && len(all) >= filter.Limit {
			break
		}
	}
	return all, rows.Err()
}

func (s *Store) CountAuditLogs(ctx context.Context, tenantID string, filter store.AuditFilter) (int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM audit_logs WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var count int64
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return 0, err
		}
		var a models.AuditLog
		if err := json.Unmarshal(raw, &a); err != nil {
			return 0, err
		}
		if matchesAuditFilter(a, filter) {
			count++
		}
	}
	return count, rows.Err()
}

func matchesAuditFilter(a models.AuditLog, filter store.AuditFilter) bool {
	if filter.EventType != "" && a.EventType != filter.EventType {
		return false
	}
	if filter.Severity != "" && a.Severity != filter.Severity {
		return false
	}
	if filter.ActorID != "" && a.ActorID != filter.ActorID {
		return false
	}
	if filter.Since != nil && a.Timestamp.Before(*filter.Since) {
		return false
	}
	return true
}
