package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/davicafu/eventlab/internal/event/domain"
)

// DedupRepoMongoDB implementa DedupStore para MongoDB. El event_id es el _id
// del documento: InsertOne contra la clave primaria da el check-and-insert
// atómico (E11000 en la colisión).
type DedupRepoMongoDB struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ domain.DedupStore = (*DedupRepoMongoDB)(nil)

// NewDedupRepoMongoDB es el constructor del repositorio.
func NewDedupRepoMongoDB(ctx context.Context, client *mongo.Client, dbName string) (*DedupRepoMongoDB, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}

	return &DedupRepoMongoDB{
		client: client,
		coll:   client.Database(dbName).Collection("processed_events"),
	}, nil
}

// --- Structs de BSON para el mapeo ---
// Se definen localmente para no "contaminar" el dominio con tags de BSON.

type mongoDedupRecord struct {
	EventID     string                 `bson:"_id"`
	Topic       string                 `bson:"topic"`
	Source      string                 `bson:"source"`
	Timestamp   string                 `bson:"timestamp"`
	Payload     map[string]interface{} `bson:"payload,omitempty"`
	ProcessedAt time.Time              `bson:"processedAt"`
	Forwarded   bool                   `bson:"forwarded"`
}

func (m mongoDedupRecord) toDomain() domain.DedupRecord {
	return domain.DedupRecord{
		EventID:     m.EventID,
		Topic:       m.Topic,
		Source:      m.Source,
		Timestamp:   m.Timestamp,
		Payload:     m.Payload,
		ProcessedAt: m.ProcessedAt,
		Forwarded:   m.Forwarded,
	}
}

// ------------------ Métodos ------------------

func (r *DedupRepoMongoDB) TryInsert(ctx context.Context, e domain.Event) (bool, error) {
	rec := domain.NewDedupRecord(e)

	_, err := r.coll.InsertOne(ctx, mongoDedupRecord{
		EventID:     rec.EventID,
		Topic:       rec.Topic,
		Source:      rec.Source,
		Timestamp:   rec.Timestamp,
		Payload:     rec.Payload,
		ProcessedAt: rec.ProcessedAt,
		Forwarded:   false,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return true, nil
}

func (r *DedupRepoMongoDB) List(ctx context.Context, f domain.EventFilter) ([]domain.DedupRecord, error) {
	f = f.Normalize()

	filter := bson.M{}
	if f.Topic != nil {
		filter["topic"] = *f.Topic
	}

	// Sin columna seq: el orden de inserción se aproxima con processedAt + _id.
	opts := options.Find().
		SetSort(bson.D{{Key: "processedAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(f.Offset)).
		SetLimit(int64(f.Limit))

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer cur.Close(ctx)

	return decodeRecords(ctx, cur)
}

func (r *DedupRepoMongoDB) FetchUnforwarded(ctx context.Context, limit int) ([]domain.DedupRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "processedAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := r.coll.Find(ctx, bson.M{"forwarded": false}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer cur.Close(ctx)

	return decodeRecords(ctx, cur)
}

func (r *DedupRepoMongoDB) MarkForwarded(ctx context.Context, eventID string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": eventID},
		bson.M{"$set": bson.M{"forwarded": true}},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("no dedup record found with event_id %s", eventID)
	}
	return nil
}

func (r *DedupRepoMongoDB) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *DedupRepoMongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

func decodeRecords(ctx context.Context, cur *mongo.Cursor) ([]domain.DedupRecord, error) {
	var records []domain.DedupRecord
	for cur.Next(ctx) {
		var m mongoDedupRecord
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		records = append(records, m.toDomain())
	}
	return records, cur.Err()
}
