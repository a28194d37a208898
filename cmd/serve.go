package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"advisory-service/internal/database/postgres"
	"advisory-service/internal/event"
	"advisory-service/internal/models"
	"advisory-service/internal/worker"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	bulletinExpiryCron = "0 5 * * * *"
	shutdownTimeout    = 15 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled ingestion, delivery sweeps, receipt consumption and the health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, cleanup, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if len(cfg.PipelineCfg.Districts) == 0 {
				return errors.New("ADVISORY_DISTRICTS is empty, nothing to ingest")
			}

			app, err := newApplication(cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.serve(ctx)
		},
	}
}

func (a *application) serve(ctx context.Context) error {
	pipeline := a.cfg.PipelineCfg

	scheduler := worker.NewScheduler(a.log)
	jobs := []struct {
		config worker.JobConfig
		job    worker.Job
	}{
		{
			config: worker.JobConfig{Name: "advisory-ingestion", Cron: pipeline.IngestionCron, Timeout: 2 * time.Hour, Enabled: true},
			job: func(ctx context.Context) error {
				_, err := a.ingestion.RunCycle(ctx)
				if errors.Is(err, models.ErrNoWeatherData) {
					return nil
				}
				return err
			},
		},
		{
			config: worker.JobConfig{Name: "delivery-sweep", Cron: pipeline.SweepCron, Timeout: 10 * time.Minute, Enabled: true},
			job: func(ctx context.Context) error {
				_, err := a.sweep.Run(ctx)
				return err
			},
		},
		{
			config: worker.JobConfig{Name: "bulletin-expiry", Cron: bulletinExpiryCron, Timeout: time.Minute, Enabled: true},
			job: func(ctx context.Context) error {
				_, err := a.bulletin.ExpireStale(ctx)
				return err
			},
		},
	}
	for _, j := range jobs {
		if err := scheduler.RegisterJob(j.config, j.job); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	consumer := event.NewReceiptConsumer(a.rabbit, a.deliveries, a.log)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start receipt consumer: %w", err)
	}

	server := fiber.New(fiber.Config{AppName: serviceName})
	server.Get("/checkhealth", a.checkHealth)
	server.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info("starting server", zap.String("port", a.cfg.Port))
		serverErr <- server.Listen(fmt.Sprintf("0.0.0.0:%s", a.cfg.Port))
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutting down server")
	case err := <-serverErr:
		return fmt.Errorf("server stopped: %w", err)
	}

	if err := server.ShutdownWithTimeout(shutdownTimeout); err != nil {
		a.log.Warn("server shutdown incomplete", zap.Error(err))
	}
	return nil
}

func (a *application) checkHealth(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	components := fiber.Map{
		"postgres": postgres.DBStatus.Load() && a.db.PingContext(ctx) == nil,
		"redis":    a.redis.Ping(ctx) == nil,
		"minio":    a.minio.Ping(ctx) == nil,
		"rabbitmq": a.rabbit.IsHealthy(),
	}
	healthy := true
	for _, ok := range components {
		if !ok.(bool) {
			healthy = false
		}
	}

	status := fiber.StatusOK
	if !healthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"service":    serviceName,
		"healthy":    healthy,
		"components": components,
	})
}
