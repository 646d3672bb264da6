package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// AuditLog is one row in audit_logs.
type AuditLog struct {
	ActorID       int64
	Action        string
	Entity        string
	EntityID      string
	CorrelationID uuid.UUID
	Meta          map[string]any
	At            time.Time
}

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger appends records to audit_logs.
type AuditLogger struct {
	db  Execer
	now func() time.Time
}

// NewAuditLogger returns an AuditLogger writing through db.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db, now: time.Now}
}

// ErrAuditIncomplete is returned when a record misses its action or subject.
var ErrAuditIncomplete = errors.New("audit log requires action, entity and entity_id")

// Record persists the entry. Missing correlation ids are taken from ctx and
// a fresh one is generated when ctx carries none.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return ErrAuditIncomplete
	}
	if log.ActorID == 0 {
		log.ActorID = ActorFromContext(ctx)
	}
	if log.CorrelationID == uuid.Nil {
		log.CorrelationID = CorrelationFromContext(ctx)
	}
	if log.CorrelationID == uuid.Nil {
		log.CorrelationID = uuid.New()
	}
	if log.At.IsZero() {
		log.At = l.now()
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, correlation_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		log.ActorID, log.Action, log.Entity, log.EntityID, log.CorrelationID, meta, log.At.UTC())
	if err != nil {
		return fmt.Errorf("audit: insert %s: %w", log.Action, err)
	}
	return nil
}
