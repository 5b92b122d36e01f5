package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	// _ "github.com/mattn/go-sqlite3" // better performance but requires gcc
	_ "modernc.org/sqlite"

	"github.com/davicafu/eventlab/internal/event/domain"
)

// DedupRepoSQLite implementa DedupStore sobre SQLite. La unicidad de event_id
// la garantiza el índice UNIQUE: el check-and-insert es una sola sentencia.
type DedupRepoSQLite struct {
	db *sql.DB
}

var _ domain.DedupStore = (*DedupRepoSQLite)(nil)

func NewDedupRepoSQLite(db *sql.DB) *DedupRepoSQLite {
	return &DedupRepoSQLite{db: db}
}

// ------------------ Inicialización de DB ------------------

// Open abre el fichero SQLite listo para el pipeline. El driver modernc
// admite un único escritor: la pool se limita a una conexión para que los
// workers concurrentes serialicen en vez de recibir SQLITE_BUSY.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := InitSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InitSQLite crea la tabla processed_events si no existe.
func InitSQLite(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS processed_events (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            event_id TEXT NOT NULL UNIQUE,
            topic TEXT NOT NULL,
            source TEXT NOT NULL,
            timestamp TEXT NOT NULL,
            payload TEXT NOT NULL,
            processed_at DATETIME NOT NULL,
            forwarded BOOLEAN NOT NULL DEFAULT 0
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

// TryInsert persiste el evento salvo que su event_id ya exista. INSERT OR
// IGNORE descarta de forma atómica las colisiones con el índice UNIQUE, así
// que bajo concurrencia exactamente una llamada observa rows==1.
func (r *DedupRepoSQLite) TryInsert(ctx context.Context, e domain.Event) (bool, error) {
	rec := domain.NewDedupRecord(e)

	payloadBytes, err := json.Marshal(rec.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_events
		 (event_id, topic, source, timestamp, payload, processed_at, forwarded)
		 VALUES (?,?,?,?,?,?,0)`,
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

// List devuelve registros en orden de inserción (seq), paginados.
func (r *DedupRepoSQLite) List(ctx context.Context, f domain.EventFilter) ([]domain.DedupRecord, error) {
	f = f.Normalize()

	var args []interface{}
	var conditions []string

	if f.Topic != nil {
		conditions = append(conditions, "topic = ?")
		args = append(args, *f.Topic)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT seq, event_id, topic, source, timestamp, payload, processed_at, forwarded
		FROM processed_events %s ORDER BY seq LIMIT ? OFFSET ?`, where)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FetchUnforwarded obtiene los registros aún no reenviados, en orden de inserción.
func (r *DedupRepoSQLite) FetchUnforwarded(ctx context.Context, limit int) ([]domain.DedupRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, event_id, topic, source, timestamp, payload, processed_at, forwarded
		 FROM processed_events
		 WHERE forwarded = 0
		 ORDER BY seq
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// MarkForwarded marca un registro como reenviado y devuelve error si no existe.
func (r *DedupRepoSQLite) MarkForwarded(ctx context.Context, eventID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE processed_events SET forwarded = 1 WHERE event_id = ?`,
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

func (r *DedupRepoSQLite) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *DedupRepoSQLite) Close() error {
	return r.db.Close()
}

// ------------------ Helpers ------------------

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
