// cmd/worker-manager/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"threatintel-workers/internal/common/camunda"
	"threatintel-workers/internal/common/config"
	"threatintel-workers/internal/common/database"
	httpclient "threatintel-workers/internal/common/http"
	"threatintel-workers/internal/common/loganalytics"
	"threatintel-workers/internal/common/logger"
	"threatintel-workers/internal/common/observability"
	"threatintel-workers/internal/threatintel"
	fetch "threatintel-workers/internal/workers/threat-intel/fetch-threat-intel-ips"
	"threatintel-workers/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err,
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// checkRegistry warns about task types the activity registry does not
// describe. A missing registry is not fatal.
func checkRegistry(path string, taskTypes []string, log logger.Logger) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		log.Warn("activity registry not loaded", map[string]interface{}{"path": path, "error": err})
		return
	}
	if err := reg.Validate(); err != nil {
		log.Warn("activity registry invalid", map[string]interface{}{"path": path, "error": err})
		return
	}
	for _, taskType := range taskTypes {
		activity, ok := reg.Find(taskType)
		if !ok {
			log.Warn("task type missing from activity registry", map[string]interface{}{"taskType": taskType})
			continue
		}
		log.Debug("activity contract loaded", map[string]interface{}{
			"taskType": taskType,
			"version":  activity.Version,
			"status":   activity.ImplementationStatus,
		})
	}
}

func fatal(log logger.Logger, msg string, err error) {
	log.Error(msg, map[string]interface{}{"error": err})
	_ = log.Sync()
	os.Exit(1)
}

func main() {
	bootLog := logger.NewZapAdapter(logger.New("info", "console"))

	cfg, err := config.Load()
	if err != nil {
		fatal(bootLog, "config load failed", err)
	}

	log, err := logger.NewFromConfig(cfg.Logging)
	if err != nil {
		fatal(bootLog, "logger init failed", err)
	}
	defer log.Sync()

	log.Info("Starting worker manager...", map[string]interface{}{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
		"threatIntel": cfg.ThreatIntel.String(),
	})

	obs := observability.New(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint, cfg.Observability.MetricsEnabled)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Zeebe Client with retry ---
	zeebe, err := camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
		GatewayAddress:         cfg.Camunda.BrokerAddress,
		UsePlaintextConnection: true,
		ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
	}, func(attempt int, err error, next time.Duration) {
		log.Warn("Zeebe client initialization failed, retrying...", map[string]interface{}{
			"error":       err,
			"attempt":     attempt,
			"nextRetryIn": next.String(),
		})
	})
	if err != nil {
		fatal(log, "zeebe client failed after retries", err)
	}
	log.Info("Zeebe client connected successfully", nil)

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		if err := pg.Ping(ctx); err != nil {
			pg.Close()
			return err
		}
		return pg.EnsureSchema(ctx)
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		fatal(log, "postgres failed after retries", err)
	}
	defer pg.Close()
	log.Info("PostgreSQL connected successfully", nil)

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		if err := redis.Ping(ctx); err != nil {
			redis.Close()
			return err
		}
		return nil
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		fatal(log, "redis failed after retries", err)
	}
	defer redis.Close()
	log.Info("Redis connected successfully", map[string]interface{}{"snapshotKey": redis.SnapshotKey()})

	// --- Log Analytics ---
	transport := httpclient.NewClient(config.GetDuration(cfg.LogAnalytics.HTTPTimeout))
	laClient, err := loganalytics.NewClient(cfg.ThreatIntel, transport)
	if err != nil {
		fatal(log, "log analytics client init failed", err)
	}
	api := threatintel.NewAPI(cfg.ThreatIntel, laClient)
	log.Info("Log analytics client initialized", map[string]interface{}{"workspaceId": cfg.ThreatIntel.WorkspaceID})

	// --- Workers ---
	fetchConfig := fetch.LoadConfig()
	fetchConfig.QueryTimeout = config.GetDuration(cfg.LogAnalytics.QueryTimeout)
	fetchConfig.SnapshotTTL = time.Duration(cfg.Database.Redis.SnapshotTTL) * time.Second

	handler := fetch.NewHandler(fetchConfig, api, pg.DB, redis, obs, log)

	checkRegistry(cfg.App.RegistryPath, []string{fetch.TaskType}, log)

	var workers []worker.JobWorker
	if w := camunda.StartWorker(zeebe.GetClient(), fetch.TaskType, config.GetWorkerConfig(cfg, fetch.TaskType), handler.Handle, log); w != nil {
		workers = append(workers, w)
	}
	log.Info("Workers registered", map[string]interface{}{"count": len(workers)})

	// --- Health & Metrics Server ---
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.HealthPort),
		Handler:           newRouter(zeebe, pg, redis, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Health/Metrics server listening", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Health/Metrics server failed", map[string]interface{}{"error": err})
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutdown signal received, stopping workers...", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Close()
		w.AwaitClose()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping health server", map[string]interface{}{"error": err})
	}

	if err := zeebe.Close(); err != nil {
		log.Error("Error closing Zeebe client", map[string]interface{}{"error": err})
	}

	log.Info("Worker manager stopped gracefully", nil)
}
