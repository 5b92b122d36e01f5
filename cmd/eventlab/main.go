package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	config "github.com/davicafu/eventlab/internal/config"
	"github.com/davicafu/eventlab/internal/event/application"
	eventDomain "github.com/davicafu/eventlab/internal/event/domain"
	ingestEvents "github.com/davicafu/eventlab/internal/event/infra/inbound/events"
	eventHttp "github.com/davicafu/eventlab/internal/event/infra/inbound/http"
	chRepo "github.com/davicafu/eventlab/internal/event/infra/outbound/analytics/clickhouse"
	eventCache "github.com/davicafu/eventlab/internal/event/infra/outbound/cache"
	mongoRepo "github.com/davicafu/eventlab/internal/event/infra/outbound/db/mongodb"
	pgRepo "github.com/davicafu/eventlab/internal/event/infra/outbound/db/postgre"
	sqliteRepo "github.com/davicafu/eventlab/internal/event/infra/outbound/db/sqlite"
	infraEvents "github.com/davicafu/eventlab/internal/shared/infra/events"

	"github.com/davicafu/eventlab/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	kafka "github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	// _ "github.com/mattn/go-sqlite3" // requires gcc
	_ "modernc.org/sqlite"
)

// ---------------- Main ----------------
func main() {
	logger.Init("eventlab") // inicializa zap
	log := logger.Logger()  // obtiene logger estructurado
	defer log.Sync()        // flush buffers al salir

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()

	// ---------------- Dedup Store ----------------
	store := buildStore(ctx, cfg, log)
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		log.Fatal("failed to ping dedup store", zap.Error(err))
	}

	// ---------------- Cache ----------------
	// El frontal de ids confirmados es opcional: Redis si responde, memoria si no.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ttlSecs := int(cfg.SeenCacheTTL.Seconds())
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache de ids en memoria:", zap.Error(err))
		memCache := eventCache.NewInMemoryCache(cfg.SeenCacheTTL, 3*cfg.SeenCacheTTL)
		store = eventCache.NewCachedDedupStore(store, memCache, ttlSecs, log)
	} else {
		log.Info("✅ Redis conectado, cache de ids habilitado")
		store = eventCache.NewCachedDedupStore(store, eventCache.NewRedisCache(rdb, cfg.SeenCacheTTL), ttlSecs, log)
	}

	// --------------- Pipeline --------------
	stats := application.NewStats()
	aggregator := application.NewAggregator(store, stats, application.AggregatorConfig{
		Workers:         cfg.WorkerCount,
		QueueCapacity:   cfg.QueueCapacity,
		EnqueueTimeout:  cfg.EnqueueTimeout,
		StoreRetries:    cfg.StoreRetries,
		StoreRetryDelay: cfg.StoreRetryDelay,
	}, log)
	aggregator.Start(ctx)

	// ---------------- Analytics ---------------
	var analytics *chRepo.EventLogRepo
	if cfg.ClickHouseAddr != "" {
		var err error
		analytics, err = chRepo.NewEventLogRepo(cfg.ClickHouseAddr, cfg.ClickHouseDB)
		if err != nil {
			log.Warn("⚠️ ClickHouse no disponible, analytics deshabilitado", zap.Error(err))
			analytics = nil
		} else if err := analytics.InitSchema(ctx); err != nil {
			log.Warn("⚠️ No se pudo inicializar el esquema de ClickHouse", zap.Error(err))
			analytics = nil
		} else {
			defer analytics.Close()
			log.Info("✅ ClickHouse conectado, analytics habilitado")
		}
	}

	// ------------ Forwarder downstream ------------
	if cfg.ForwardEnabled {
		var sink application.AnalyticsSink
		if analytics != nil {
			sink = analytics
		}

		if cfg.UseKafka {
			log.Info("🚀 Usando Kafka como destino del forwarder")
			writer := kafka.NewWriter(kafka.WriterConfig{
				Brokers: cfg.KafkaBrokers,
				Topic:   cfg.KafkaTopic,
			})
			defer writer.Close()

			forwarder := application.NewForwarder(store, infraEvents.NewKafkaPublisher(writer, log), sink, cfg.ForwardPeriod, cfg.ForwardLimit, log)
			forwarder.Start(ctx)
		} else {
			log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")
			forwarder := application.NewForwarder(store, infraEvents.NewInMemoryEventBus(cfg.KafkaTopic), sink, cfg.ForwardPeriod, cfg.ForwardLimit, log)
			forwarder.Start(ctx)
		}
	}

	// ------------ Ingesta por Kafka ------------
	if cfg.UseKafka && cfg.KafkaIngestTopic != "" {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaIngestTopic,
			GroupID:  cfg.KafkaGroupID,
			MinBytes: 10e3, // 10KB
			MaxBytes: 10e6, // 10MB
		})
		defer reader.Close()

		consumer := ingestEvents.NewIngestConsumer(aggregator, log)
		adapter := infraEvents.NewConsumerAdapter(reader, consumer, log)
		adapter.Start(ctx)
	}

	// ---------------- HTTP ----------------
	var trends eventHttp.TrendProvider
	if analytics != nil {
		trends = analytics
	}
	handler := eventHttp.NewEventHandler(aggregator, trends)
	router := gin.Default()
	eventHttp.RegisterEventRoutes(router, handler)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Info("🚀 Server running",
			zap.String("url", "http://localhost:"+cfg.HTTPPort),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// --------------- Shutdown ---------------
	<-ctx.Done()
	log.Info("🛑 Señal de apagado recibida, drenando pipeline...")

	graceCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(graceCtx); err != nil {
		log.Warn("⚠️ HTTP server no cerró limpiamente", zap.Error(err))
	}
	aggregator.Stop(graceCtx)
}

// buildStore selecciona el backend del dedup store según la configuración.
func buildStore(ctx context.Context, cfg *config.Config, log *zap.Logger) eventDomain.DedupStore {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to open PostgreSQL", zap.Error(err))
		}
		if err := pgRepo.InitPostgres(db); err != nil {
			log.Fatal("failed to initialize PostgreSQL", zap.Error(err))
		}
		return pgRepo.NewDedupRepoPostgres(db)

	case "mongodb":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		repo, err := mongoRepo.NewDedupRepoMongoDB(ctx, client, cfg.MongoDB)
		if err != nil {
			log.Fatal("failed to initialize MongoDB", zap.Error(err))
		}
		return repo

	default: // sqlite
		// El fichero vive bajo un volumen estable: redeplegar sin destruirlo
		// conserva el historial de deduplicación.
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatal("failed to create data dir", zap.Error(err))
			}
		}
		db, err := sqliteRepo.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatal("failed to initialize SQLite", zap.Error(err))
		}
		return sqliteRepo.NewDedupRepoSQLite(db)
	}
}
