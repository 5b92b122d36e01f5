package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // Driver de PostgreSQL

	"github.com/davicafu/eventlab/internal/event/domain"
)

// DedupRepoPostgres implementa DedupStore para PostgreSQL. El check-and-insert
// atómico lo resuelve ON CONFLICT DO NOTHING sobre la restricción UNIQUE.
type DedupRepoPostgres struct {
	db *sql.DB
}

var _ domain.DedupStore = (*DedupRepoPostgres)(nil)

func NewDedupRepoPostgres(db *sql.DB) *DedupRepoPostgres {
	return &DedupRepoPostgres{db: db}
}

// InitPostgres crea la tabla processed_events si no existe.
func InitPostgres(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS processed_events (
            seq BIGSERIAL PRIMARY KEY,
            event_id TEXT NOT NULL UNIQUE,
            topic TEXT NOT NULL,
            source TEXT NOT NULL,
            timestamp TEXT NOT NULL,
            payload JSONB NOT NULL,
            processed_at TIMESTAMPTZ NOT NULL,
            forwarded BOOLEAN NOT NULL DEFAULT FALSE
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE INDEX IF NOT EXISTS idx_processed_events_topic
        ON processed_events(topic)
    `)
	return err
}

// ------------------ Métodos ------------------

func (r *DedupRepoPostgres) TryInsert(ctx context.Context, e domain.Event) (bool, error) {
	rec := domain.NewDedupRecord(e)

	payloadBytes, err := json.Marshal(rec.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO processed_events
		 (event_id, topic, source, timestamp, payload, processed_at, forwarded)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		 ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.Topic, rec.Source, rec.Timestamp, string(payloadBytes), rec.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return rows > 0, nil
}

func (r *DedupRepoPostgres) List(ctx context.Context, f domain.EventFilter) ([]domain.DedupRecord, error) {
	f = f.Normalize()

	var args []interface{}
	var conditions []string

	if f.Topic != nil {
		args = append(args, *f.Topic)
		conditions = append(conditions, fmt.Sprintf("topic = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT seq, event_id, topic, source, timestamp, payload, processed_at, forwarded
		FROM processed_events %s ORDER BY seq LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *DedupRepoPostgres) FetchUnforwarded(ctx context.Context, limit int) ([]domain.DedupRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, event_id, topic, source, timestamp, payload, processed_at, forwarded
		 FROM processed_events
		 WHERE forwarded = FALSE
		 ORDER BY seq
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *DedupRepoPostgres) MarkForwarded(ctx context.Context, eventID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE processed_events SET forwarded = TRUE WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected for event %s: %w", eventID, err)
	}
	if rows == 0 {
		return fmt.Errorf("no dedup record found with event_id %s", eventID)
	}
	return nil
}

func (r *DedupRepoPostgres) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *DedupRepoPostgres) Close() error {
	return r.db.Close()
}

func scanRecords(rows *sql.Rows) ([]domain.DedupRecord, error) {
	var records []domain.DedupRecord
	for rows.Next() {
		var rec domain.DedupRecord
		var payloadStr string

		if err := rows.Scan(&rec.Seq, &rec.EventID, &rec.Topic, &rec.Source,
			&rec.Timestamp, &payloadStr, &rec.ProcessedAt, &rec.Forwarded); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(payloadStr), &rec.Payload); err != nil {
			return nil, fmt.Errorf("invalid JSON payload in row %s: %w", rec.EventID, err)
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}
