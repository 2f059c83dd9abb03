package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	rd "github.com/redis/go-redis/v9"

	"github.com/procurehub/approvald/internal/config"
	"github.com/procurehub/approvald/internal/httpserver"
	"github.com/procurehub/approvald/internal/notify"
	"github.com/procurehub/approvald/internal/service"
	"github.com/procurehub/approvald/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	cancelPing()
	log.Println("connected to postgres")

	st := store.NewPGStore(db)
	outbox := notify.NewPGOutbox(db)
	processor := service.NewProcessor(st, outbox)
	minter := service.NewMinter(st)

	// --- Notification streamer wiring (DB-first outbox pipeline) ---
	var streamerCancel context.CancelFunc
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := notify.NewKafkaProducer(notify.KafkaProducerConfig{
			Brokers:     cfg.KafkaBrokers,
			Topic:       cfg.KafkaTopic,
			MaxAttempts: 3,
		})
		if err != nil {
			log.Fatalf("failed to initialize kafka producer: %v", err)
		}
		log.Printf("kafka producer initialized (brokers=%v topic=%s)", cfg.KafkaBrokers, cfg.KafkaTopic)

		var archiver notify.Archiver
		if cfg.S3Bucket != "" {
			a, err := notify.NewS3Archiver(context.Background(), cfg.S3Bucket, cfg.S3Prefix)
			if err != nil {
				log.Fatalf("failed to initialize s3 archiver: %v", err)
			}
			archiver = a
			log.Printf("s3 archiver initialized (bucket=%s prefix=%s)", cfg.S3Bucket, cfg.S3Prefix)
		} else {
			log.Println("APPROVAL_ARCHIVE_BUCKET not set; decisions will not be archived")
		}

		streamer := notify.NewStreamer(outbox, producer, archiver, notify.StreamerConfig{
			BatchSize:      cfg.StreamerBatchSize,
			PollInterval:   cfg.StreamerPollInterval,
			MaxConcurrency: cfg.StreamerConcurrency,
		})

		ctxStr, cancel := context.WithCancel(context.Background())
		streamerCancel = cancel
		go func() {
			if err := streamer.Run(ctxStr); err != nil && err != context.Canceled {
				log.Printf("[notify.streamer] exited with error: %v", err)
			}
		}()
		log.Printf("notification streamer started (batch=%d concurrency=%d poll=%s)",
			cfg.StreamerBatchSize, cfg.StreamerConcurrency, cfg.StreamerPollInterval)
	} else {
		log.Println("notification streamer not started: set KAFKA_BROKERS to enable")
	}

	server := httpserver.New(cfg, st, processor, minter)

	if cfg.RedisAddr != "" {
		rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr})
		server.RateLimiter = httpserver.RedisRateLimit(rdb, cfg.ActionRateLimit, cfg.ActionRateWindow)
		log.Printf("action rate limit enabled (limit=%d window=%s)", cfg.ActionRateLimit, cfg.ActionRateWindow)
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting approval server on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}

	// Let the streamer drain in-flight events; it closes the producer itself.
	if streamerCancel != nil {
		streamerCancel()
		time.Sleep(5 * time.Second)
	}

	_ = db.Close()
	log.Println("server stopped")
}
