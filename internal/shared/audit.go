package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// AuditLog is one row of audit_logs. A zero At lets the database stamp the row.
type AuditLog struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger appends engine commands to audit_logs.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return NewValidationError("audit", "action, entity and entity_id required")
	}
	if log.ActorID == "" {
		log.ActorID = ActorFromContext(ctx)
	}
	var meta []byte
	if len(log.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(log.Meta); err != nil {
			return err
		}
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	if _, err := l.db.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		log.ActorID, log.Action, log.Entity, log.EntityID, meta, at); err != nil {
		return &PersistenceError{Op: "audit insert", Err: err}
	}
	return nil
}
