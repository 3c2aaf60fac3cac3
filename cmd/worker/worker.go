package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"document-qa-platform/internal/config"
	"document-qa-platform/internal/logger"
	"document-qa-platform/internal/queue"
	"document-qa-platform/services"
)

// The worker process delivers queued contact alerts so the API never blocks
// on SMTP.
func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	if cfg.RedisURL == "" {
		log.Fatal("REDIS_URL is required to run the worker")
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	mailer := services.NewContactMailer(cfg)
	processor := queue.NewTaskProcessor(mailer)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskContactAlert, processor.HandleContactAlert)

	logger.Info("Starting alert worker", "redis", redisOpt.Addr)
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
