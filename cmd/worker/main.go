package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-orchestrator/internal/config"
	"github.com/ignite/campaign-orchestrator/internal/orchestrator"
	"github.com/ignite/campaign-orchestrator/internal/pkg/distlock"
	"github.com/ignite/campaign-orchestrator/internal/pkg/httpretry"
	"github.com/ignite/campaign-orchestrator/internal/pkg/logger"
	"github.com/ignite/campaign-orchestrator/internal/provider"
	"github.com/ignite/campaign-orchestrator/internal/service/campaign"
	"github.com/ignite/campaign-orchestrator/internal/steps"
	"github.com/ignite/campaign-orchestrator/internal/store"
	"github.com/ignite/campaign-orchestrator/internal/template"
	"github.com/ignite/campaign-orchestrator/internal/worker"
)

func main() {
	log.Println("Starting send worker...")

	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(!cfg.Logging.DisableRedaction)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Database.URL, store.Pool{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute,
	})
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer st.Close()
	log.Println("Database connected")

	redisClient := connectRedis(ctx, cfg.Redis.URL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	runs, err := steps.NewRunStore(ctx, st.DB())
	if err != nil {
		log.Fatalf("Init run store: %v", err)
	}

	sender, err := buildSender(cfg)
	if err != nil {
		log.Fatalf("Configure provider: %v", err)
	}
	log.Printf("Email provider: %s", sender.Name())

	personalizer := template.NewPersonalizer(template.NewEngine(), cfg.Server.BaseURL)
	pacer := orchestrator.NewPacer(cfg.Send.RatePerSecond, cfg.Send.Concurrency)

	var limiter *orchestrator.WindowLimiter
	if redisClient != nil {
		limiter = orchestrator.NewWindowLimiter(redisClient, orchestrator.WindowLimits{
			PerSecond: cfg.Send.RatePerSecond,
		})
	}

	dispatcher := orchestrator.NewDispatcher(st.Contacts, personalizer, sender, pacer, limiter, cfg.Send.Concurrency)
	orch := orchestrator.New(st.Campaigns, st.Contacts, st.Ledger, dispatcher, personalizer, orchestrator.Config{
		BatchSize:     cfg.Send.BatchSize,
		BatchesPerRun: cfg.Send.BatchesPerRun,
		MaxPerList:    cfg.Send.MaxPerList,
		MaxTotal:      cfg.Send.MaxTotal,
	})

	lockFactory := func(campaignID uuid.UUID) distlock.DistLock {
		key := fmt.Sprintf("send:campaign:%s", campaignID)
		return distlock.NewLock(redisClient, st.DB(), key, cfg.Runner.LockTTL())
	}

	svc := campaign.NewService(st.Campaigns, st.Ledger, runs)

	runner := steps.NewRunner(runs, orch, lockFactory, steps.Config{
		PollInterval: cfg.Runner.PollInterval(),
		LockTTL:      cfg.Runner.LockTTL(),
		MaxAttempts:  cfg.Runner.MaxAttempts,
	})
	runner.SetParker(svc)

	if !cfg.Scheduler.Disabled {
		scheduler := worker.NewScheduler(st.Campaigns, runs, svc, cfg.Scheduler.PollInterval())
		go scheduler.Start(ctx)
	}

	runnerDone := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(runnerDone)
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Println("Shutting down...")
	cancel()
	// Start returns once in-flight runs have drained.
	<-runnerDone
	log.Println("Worker stopped")
}

func configPath() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "config.yaml"
}

func connectRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		log.Println("Redis not configured; using Postgres advisory locks, no cross-process rate window")
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("Parse Redis URL: %v", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Redis unreachable (%v); continuing without it", err)
		client.Close()
		return nil
	}
	log.Println("Redis connected")
	return client
}

func buildSender(cfg *config.Config) (provider.Sender, error) {
	switch cfg.Send.Provider {
	case "sparkpost":
		if cfg.SparkPost.APIKey == "" {
			return nil, fmt.Errorf("SPARKPOST_API_KEY is not set")
		}
		sp := provider.NewSparkPost(cfg.SparkPost.APIKey, cfg.SparkPost.BaseURL)
		sp.SetHTTPClient(httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3))
		return sp, nil
	case "ses":
		if cfg.SES.AccessKey == "" || cfg.SES.SecretKey == "" {
			return nil, fmt.Errorf("AWS SES credentials are not set")
		}
		return provider.NewSES(cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Send.Provider)
	}
}
