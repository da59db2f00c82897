package repository

import (
	"context"
	"database/sql"
)

// OCPPLogSchema creates the frame journal table.
const OCPPLogSchema = `
	CREATE TABLE IF NOT EXISTS ocpp_messages (
		id BIGSERIAL PRIMARY KEY,
		charge_point_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		action TEXT NOT NULL,
		payload BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// OCPPLogRepository stores raw OCPP frames exchanged with the central system.
type OCPPLogRepository struct {
	db            *sql.DB
	chargePointID string
}

// NewOCPPLogRepository ctor.
func NewOCPPLogRepository(db *sql.DB, chargePointID string) *OCPPLogRepository {
	return &OCPPLogRepository{db: db, chargePointID: chargePointID}
}

// Save stores log entry.
func (r *OCPPLogRepository) Save(ctx context.Context, direction, action string, payload []byte) error {
	const query = `
		INSERT INTO ocpp_messages (charge_point_id, direction, action, payload)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, r.chargePointID, direction, action, payload)
	return err
}
