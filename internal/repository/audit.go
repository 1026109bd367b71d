package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/ordergenie-engine/internal/audit"
)

const (
	insertAuditSQL = `INSERT INTO audit_log (id, restaurant_id, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	listAuditByEntitySQL = `SELECT id, restaurant_id, action, entity_type, entity_id, details, created_at
		FROM audit_log WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at, id`
)

var _ audit.Logger = (*AuditRepository)(nil)

// AuditRepository implements audit.Logger backed by PostgreSQL.
type AuditRepository struct {
	q DBTX
}

// NewAuditRepository returns an AuditRepository that uses q.
func NewAuditRepository(q DBTX) *AuditRepository {
	return &AuditRepository{q: q}
}

// Log appends an entry. A missing id or timestamp is filled in. Logging an
// id that is already present is a no-op.
func (r *AuditRepository) Log(ctx context.Context, e audit.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshaling audit details: %w", err)
	}
	_, err = r.q.Exec(ctx, insertAuditSQL, e.ID, e.RestaurantID, e.Action, e.EntityType, e.EntityID, raw, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting audit entry %s: %w", e.Action, err)
	}
	return nil
}

// ListByEntity returns the trail of one entity in insertion order.
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	rows, err := r.q.Query(ctx, listAuditByEntitySQL, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries of %s %q: %w", entityType, entityID, err)
	}
	return pgx.CollectRows(rows, scanAuditEntry)
}

func scanAuditEntry(row pgx.CollectableRow) (audit.Entry, error) {
	var (
		e   audit.Entry
		raw []byte
	)
	if err := row.Scan(&e.ID, &e.RestaurantID, &e.Action, &e.EntityType, &e.EntityID, &raw, &e.CreatedAt); err != nil {
		return e, err
	}
	if err := json.Unmarshal(raw, &e.Details); err != nil {
		return e, fmt.Errorf("decoding audit details: %w", err)
	}
	return e, nil
}
