package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/davicafu/eventlab/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Simulador de productor at-least-once: genera un lote de eventos con ids
// repetidos y los reenvía desordenados, como haría un broker con reintentos.

var topics = []string{"user.created", "order.placed", "payment.processed"}

type simConfig struct {
	aggregatorURL string
	numEvents     int
	duplicateRate float64
	batchSize     int
}

func loadSimConfig() simConfig {
	cfg := simConfig{
		aggregatorURL: "http://localhost:8080",
		numEvents:     5000,
		duplicateRate: 0.2,
		batchSize:     50,
	}
	if v := os.Getenv("AGGREGATOR_URL"); v != "" {
		cfg.aggregatorURL = v
	}
	if v := os.Getenv("NUM_EVENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.numEvents = n
		}
	}
	if v := os.Getenv("DUPLICATE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.duplicateRate = f
		}
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.batchSize = n
		}
	}
	return cfg
}

type simEvent struct {
	EventID   string                 `json:"event_id"`
	Topic     string                 `json:"topic"`
	Source    string                 `json:"source"`
	Timestamp string                 `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

func main() {
	logger.Init("eventlab-simulator")
	log := logger.Logger()
	defer log.Sync()

	cfg := loadSimConfig()
	runID := uuid.New().String()

	log.Info("🚀 Iniciando simulador de productor",
		zap.String("run_id", runID),
		zap.Int("num_events", cfg.numEvents),
		zap.Float64("duplicate_rate", cfg.duplicateRate),
	)

	client := &http.Client{Timeout: 10 * time.Second}
	if err := waitForHealthy(client, cfg.aggregatorURL, 30*time.Second); err != nil {
		log.Fatal("el agregador no respondió a /health", zap.Error(err))
	}

	events := generateEvents(cfg, runID)
	log.Info("📬 Enviando eventos",
		zap.Int("total_con_duplicados", len(events)),
		zap.Int("batch_size", cfg.batchSize),
	)

	sent, failed := 0, 0
	for start := 0; start < len(events); start += cfg.batchSize {
		end := start + cfg.batchSize
		if end > len(events) {
			end = len(events)
		}
		if err := postBatch(client, cfg.aggregatorURL, events[start:end]); err != nil {
			failed += end - start
			log.Warn("⚠️ Lote rechazado, se continúa (el reenvío es responsabilidad del productor)", zap.Error(err))
			continue
		}
		sent += end - start
	}

	log.Info("✅ Simulación completada",
		zap.Int("enviados", sent),
		zap.Int("fallidos", failed),
	)

	printStats(client, cfg.aggregatorURL, log)
}

// generateEvents construye numEvents eventos únicos y añade duplicados
// según duplicateRate, barajando el resultado para simular desorden.
func generateEvents(cfg simConfig, runID string) []simEvent {
	unique := make([]simEvent, 0, cfg.numEvents)
	for i := 0; i < cfg.numEvents; i++ {
		unique = append(unique, simEvent{
			EventID:   fmt.Sprintf("evt_%s_%06d", runID[:8], i),
			Topic:     topics[i%len(topics)],
			Source:    "simulator",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Payload: map[string]interface{}{
				"run_id": runID,
				"seq":    i,
			},
		})
	}

	numDups := int(float64(cfg.numEvents) * cfg.duplicateRate)
	all := make([]simEvent, 0, cfg.numEvents+numDups)
	all = append(all, unique...)
	for i := 0; i < numDups; i++ {
		all = append(all, unique[rand.Intn(len(unique))])
	}

	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all
}

func waitForHealthy(client *http.Client, baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("timeout tras %s esperando /health", timeout)
}

func postBatch(client *http.Client, baseURL string, batch []simEvent) error {
	body, err := json.Marshal(map[string]interface{}{"events": batch})
	if err != nil {
		return err
	}
	resp, err := client.Post(baseURL+"/publish", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func printStats(client *http.Client, baseURL string, log *zap.Logger) {
	resp, err := client.Get(baseURL + "/stats")
	if err != nil {
		log.Warn("no se pudieron recuperar las estadísticas", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	var stats map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		log.Warn("respuesta de /stats ilegible", zap.Error(err))
		return
	}
	log.Info("📈 Estadísticas del agregador", zap.Any("stats", stats))
}
