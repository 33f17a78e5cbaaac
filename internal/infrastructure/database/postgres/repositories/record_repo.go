package repositories

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/turtacn/KeyMed-Intelligence/internal/domain/record"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

const pqUniqueViolation = "23505"

// RecordRepository is the PostgreSQL record.Store.  Each record is one row
// whose payload column holds the JSON form of clinical.Record; the kind,
// name and clinical date are lifted into columns for filtering.
type RecordRepository struct {
	conn  *postgres.Connection
	log   logging.Logger
	now   func() time.Time
	newID func() string
}

var _ record.Store = (*RecordRepository)(nil)

func NewRecordRepository(conn *postgres.Connection, log logging.Logger) *RecordRepository {
	return &RecordRepository{
		conn:  conn,
		log:   logging.OrNop(log).Named("record-repo"),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (r *RecordRepository) executor() queryExecutor {
	return r.conn.DB()
}

// Append implements record.Store.
func (r *RecordRepository) Append(ctx context.Context, kind clinical.RecordKind, rec clinical.Record) (string, error) {
	if err := record.CheckAppend(kind, rec); err != nil {
		return "", err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal record")
	}

	var date interface{}
	if d := rec.Date(); !d.IsZero() {
		date = d.UTC()
	}
	id := r.newID()
	query := `
		INSERT INTO clinical_records (id, kind, name_key, clinical_date, payload, source_session, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.executor().ExecContext(ctx, query,
		id, string(kind), nameKey(rec.Name()), date, payload, record.SessionFrom(ctx), r.now().UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return "", errors.Wrap(err, errors.ErrCodeConflict, "record id already exists")
		}
		if ctx.Err() != nil {
			return "", errors.Wrap(ctx.Err(), errors.ErrCodeRecordWriteFailed, "append cancelled")
		}
		return "", errors.Wrap(err, errors.ErrCodeRecordWriteFailed, "failed to append record")
	}
	r.log.Debug("record appended", logging.String("id", id), logging.String("kind", string(kind)))
	return id, nil
}

// Query implements record.Store.  Rows without a clinical date sort last,
// matching the in-memory store.
func (r *RecordRepository) Query(ctx context.Context, kind clinical.RecordKind, filter record.Filter) ([]clinical.StoredRecord, error) {
	if !kind.IsValid() {
		return nil, errors.New(errors.ErrCodeRecordKindUnknown, "unknown record kind").WithDetail(string(kind))
	}
	query, args := buildRecordQuery(kind, filter)
	rows, err := r.executor().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query records")
	}
	defer rows.Close()

	out := make([]clinical.StoredRecord, 0)
	for rows.Next() {
		sr, err := scanStoredRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate records")
	}
	return out, nil
}

// Count returns the number of stored records per kind.
func (r *RecordRepository) Count(ctx context.Context, kinds []clinical.RecordKind) (map[clinical.RecordKind]int, error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	rows, err := r.executor().QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM clinical_records WHERE kind = ANY($1) GROUP BY kind`, pq.Array(names))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count records")
	}
	defer rows.Close()

	counts := make(map[clinical.RecordKind]int, len(kinds))
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan count")
		}
		counts[clinical.RecordKind(kind)] = n
	}
	return counts, rows.Err()
}

func buildRecordQuery(kind clinical.RecordKind, f record.Filter) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`SELECT id, payload, source_session, created_at FROM clinical_records WHERE kind = $1`)
	args := []interface{}{string(kind)}
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Name != "" {
		b.WriteString(" AND name_key = " + arg(nameKey(f.Name)))
	}
	var bounds []string
	if !f.Since.IsZero() {
		bounds = append(bounds, "clinical_date >= "+arg(f.Since.UTC()))
	}
	if !f.Until.IsZero() {
		bounds = append(bounds, "clinical_date <= "+arg(f.Until.UTC()))
	}
	if len(bounds) > 0 {
		cond := strings.Join(bounds, " AND ")
		if f.IncludeUndated {
			cond = "(" + cond + " OR clinical_date IS NULL)"
		}
		b.WriteString(" AND " + cond)
	}
	b.WriteString(" ORDER BY clinical_date DESC NULLS LAST, id ASC")
	if f.Limit > 0 {
		b.WriteString(" LIMIT " + arg(f.Limit))
	}
	return b.String(), args
}

func scanStoredRecord(row scanner) (clinical.StoredRecord, error) {
	var (
		sr      clinical.StoredRecord
		payload []byte
	)
	if err := row.Scan(&sr.ID, &payload, &sr.SourceSession, &sr.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return sr, errors.New(errors.ErrCodeNotFound, "record not found")
		}
		return sr, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan record")
	}
	if err := json.Unmarshal(payload, &sr.Record); err != nil {
		return sr, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode record payload").WithDetail(sr.ID)
	}
	return sr, nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

//Personal.AI order the ending
