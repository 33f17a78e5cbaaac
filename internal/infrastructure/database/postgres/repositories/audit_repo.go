package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/importing"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// pgxQuerier is the part of *pgxpool.Pool the audit log uses.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// AuditRepository keeps one row per finished import session.  It implements
// importing.AuditLog.
type AuditRepository struct {
	db  pgxQuerier
	log logging.Logger
}

var _ importing.AuditLog = (*AuditRepository)(nil)

func NewAuditRepository(db pgxQuerier, log logging.Logger) *AuditRepository {
	return &AuditRepository{db: db, log: logging.OrNop(log).Named("audit-repo")}
}

// Record upserts entry; a session that is recorded twice keeps the latest
// outcome.
func (r *AuditRepository) Record(ctx context.Context, e *importing.AuditEntry) error {
	query := `
		INSERT INTO import_audit (
			session_id, document_type, state, imported, skipped, total, confidence, error, archive_key, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id) DO UPDATE SET
			state = EXCLUDED.state,
			imported = EXCLUDED.imported,
			skipped = EXCLUDED.skipped,
			total = EXCLUDED.total,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`
	tag, err := r.db.Exec(ctx, query,
		e.SessionID, string(e.DocumentType), string(e.State), e.Imported, e.Skipped, e.Total,
		e.Confidence, e.Error, e.ArchiveKey, e.StartedAt.UTC(), e.FinishedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to record import audit")
	}
	if tag.RowsAffected() != 1 {
		r.log.Warn("Unexpected audit row count", logging.String("session_id", e.SessionID), logging.Int64("rows", tag.RowsAffected()))
	}
	return nil
}

// Recent returns the latest entries, newest first.  limit <= 0 returns all.
func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]*importing.AuditEntry, error) {
	query := `
		SELECT session_id, document_type, state, imported, skipped, total, confidence, error, archive_key, started_at, finished_at
		FROM import_audit ORDER BY finished_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query import audit")
	}
	defer rows.Close()

	out := make([]*importing.AuditEntry, 0)
	for rows.Next() {
		var (
			e       importing.AuditEntry
			docType string
			state   string
		)
		if err := rows.Scan(&e.SessionID, &docType, &state, &e.Imported, &e.Skipped, &e.Total,
			&e.Confidence, &e.Error, &e.ArchiveKey, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan import audit")
		}
		e.DocumentType = clinical.DocumentType(docType)
		e.State = importing.State(state)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate import audit")
	}
	return out, nil
}

//Personal.AI order the ending
