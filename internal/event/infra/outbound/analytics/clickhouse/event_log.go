package clickhouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/davicafu/eventlab/internal/event/domain"
)

// EventLogRepo vuelca los eventos únicos confirmados a ClickHouse para
// analítica. Es un sink best-effort: el pipeline nunca depende de él.
type EventLogRepo struct {
	db *sql.DB
}

// NewEventLogRepo es el constructor.
func NewEventLogRepo(addr string, dbName string) (*EventLogRepo, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return &EventLogRepo{db: conn}, nil
}

// InitSchema crea la tabla events_log si no existe.
func (r *EventLogRepo) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events_log (
			event_id String,
			topic String,
			source String,
			timestamp String,
			payload String,
			processed_at DateTime,
			logged_at DateTime
		) ENGINE = MergeTree()
		ORDER BY (topic, logged_at)
	`)
	return err
}

// LogBatch inserta un lote de registros. ClickHouse funciona mejor con
// inserciones en lotes, así que es la única forma de escribir que exponemos.
func (r *EventLogRepo) LogBatch(ctx context.Context, records []domain.DedupRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO events_log (event_id, topic, source, timestamp, payload, processed_at, logged_at)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	loggedAt := time.Now()
	for _, rec := range records {
		payloadBytes, err := json.Marshal(rec.Payload)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to marshal payload for event %s: %w", rec.EventID, err)
		}

		if _, err := stmt.ExecContext(
			ctx,
			rec.EventID,
			rec.Topic,
			rec.Source,
			rec.Timestamp,
			string(payloadBytes),
			rec.ProcessedAt,
			loggedAt,
		); err != nil {
			// Si un registro falla, hacemos rollback de todo el lote.
			tx.Rollback()
			return fmt.Errorf("failed to exec statement for event %s: %w", rec.EventID, err)
		}
	}

	return tx.Commit()
}

// GetTopicTrend devuelve el total diario de eventos únicos por topic.
func (r *EventLogRepo) GetTopicTrend(ctx context.Context, start, end time.Time) ([]domain.TopicTrend, error) {
	query := `
		SELECT
			toStartOfDay(logged_at) AS day,
			topic,
			count() AS total
		FROM events_log
		WHERE logged_at >= ? AND logged_at < ?
		GROUP BY day, topic
		ORDER BY day, topic
	`

	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trends []domain.TopicTrend
	for rows.Next() {
		var t domain.TopicTrend
		if err := rows.Scan(&t.Day, &t.Topic, &t.Total); err != nil {
			return nil, err
		}
		trends = append(trends, t)
	}
	return trends, rows.Err()
}

func (r *EventLogRepo) Close() error {
	return r.db.Close()
}
