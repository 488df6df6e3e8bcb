package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/roster"
	"rollcall/internal/store"
)

// Worker consumes attendance events and appends them to the audit log.
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

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:events")
	} else {
		// Memory queue only makes sense inside the API process; a separate
		// worker needs the shared backend.
		log.Println("WARNING: memory queue in a standalone worker receives nothing; set QUEUE_BACKEND=redis")
		q = queue.NewInMemory(64)
	}

	audit := roster.NewPostgresAuditLog(db.Client)

	events, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for events...")
	for evt := range events {
		if err := audit.AppendEvent(ctx, roster.AuditEvent{
			Kind:       evt.Kind,
			MatricNo:   evt.MatricNo,
			ClassTitle: evt.ClassTitle,
			OccurredAt: evt.OccurredAt,
		}); err != nil {
			log.Printf("audit append failed for %s/%s: %v", evt.Kind, evt.MatricNo, err)
			continue
		}
		log.Printf("audited %s event for %s", evt.Kind, evt.MatricNo)
	}

	log.Println("worker stopped")
}
