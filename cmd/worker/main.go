package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classattend/internal/cleanup"
	"classattend/internal/config"
	"classattend/internal/queue"
	"classattend/internal/session"
	"classattend/internal/store"
)

// Worker hosts the background half of the service: the cleanup
// sweeper that expires and prunes old sessions, and the consumer that
// drains attendance audit events into the log.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	// The sweeper's counters live in this process, so it needs its
	// own scrape endpoint.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
	go func() {
		log.Printf("metrics listening on :%s", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	mgr := session.NewManager(session.NewRepository(db.Client))
	sweeper := cleanup.New(mgr, cfg.CleanupInterval, cfg.RetentionDays)
	go sweeper.Run(ctx)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.TypeAttendanceMarked {
			continue
		}

		var evt struct {
			SessionID *int64   `json:"session_id"`
			StudentID int64    `json:"student_id"`
			Subject   string   `json:"subject"`
			DistanceM *float64 `json:"distance_m"`
		}
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("malformed audit event %s: %v", msg.ID, err)
			continue
		}

		if evt.DistanceM != nil {
			log.Printf("attendance %s: student %d marked for %q at %.0fm", msg.ID, evt.StudentID, evt.Subject, *evt.DistanceM)
		} else {
			log.Printf("attendance %s: student %d marked for %q (no geofence)", msg.ID, evt.StudentID, evt.Subject)
		}
	}

	log.Println("worker stopped")
}
