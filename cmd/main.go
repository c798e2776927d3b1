package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"compensation-engine/internal/app"
	"compensation-engine/internal/binary"
	"compensation-engine/internal/config"
	"compensation-engine/internal/metrics"
	"compensation-engine/internal/migrations"
	"compensation-engine/internal/rank"
	"compensation-engine/internal/reward"
	"compensation-engine/internal/roi"
	"compensation-engine/internal/scheduler"
	"compensation-engine/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Инициализация логгера
	logger, err := initLogger()
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск движка начислений")

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("ошибка загрузки конфигурации", zap.Error(err))
	}

	// Применение миграций
	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Fatal("ошибка применения миграций", zap.Error(err))
	}

	// Инициализация базы данных
	st, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации базы данных", zap.Error(err))
	}

	application, err := app.New(cfg, st, prometheus.DefaultRegisterer, logger)
	if err != nil {
		st.Close()
		logger.Fatal("ошибка инициализации сервисов", zap.Error(err))
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("ошибка закрытия соединений", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Purchases.SeedCatalog(ctx); err != nil {
		logger.Fatal("ошибка заполнения каталога пакетов", zap.Error(err))
	}

	// Планировщик циклов начислений
	sched := scheduler.NewScheduler(logger)
	schedDone := make(chan struct{})
	if cfg.Scheduler.Enabled {
		specs := map[string]string{
			roi.Task:    cfg.Scheduler.ROISpec,
			binary.Task: cfg.Scheduler.BinarySpec,
			reward.Task: cfg.Scheduler.WeeklySpec,
			rank.Task:   cfg.Scheduler.RankSpec,
		}
		for name, cycle := range application.Cycles() {
			job := scheduler.NewCycleJob(name, cycle, logger)
			if err := sched.AddJob(specs[name], job); err != nil {
				logger.Fatal("ошибка регистрации задачи", zap.Error(err))
			}
		}
		go func() {
			sched.Start(ctx)
			close(schedDone)
		}()
	} else {
		logger.Warn("планировщик отключен, циклы запускаются только через cmd/cycle")
		close(schedDone)
	}

	metricsHandler := metrics.NewHandler(application.Metrics, application.HealthChecks(), logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		startMetricsServer(ctx, cfg.App.Port, metricsHandler, logger)
		close(done)
	}()

	logger.Info("движок начислений запущен", zap.Int("port", cfg.App.Port))

	sig := <-sigChan
	logger.Info("получен сигнал завершения", zap.String("signal", sig.String()))

	cancel()
	<-done
	<-schedDone

	logger.Info("движок начислений остановлен")
}

// initLogger инициализирует логгер
func initLogger() (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.OutputPaths = []string{"stdout", "logs/app.log"}
	config.ErrorOutputPaths = []string{"stderr", "logs/error.log"}

	// Создаем директорию для логов если её нет
	if err := os.MkdirAll("logs", 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
	}

	return config.Build()
}

// startMetricsServer запускает HTTP сервер для метрик и проверки здоровья
func startMetricsServer(ctx context.Context, port int, handler *metrics.Handler, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler.MetricsHandler())
	mux.HandleFunc("/health", handler.HealthHandler)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("HTTP сервер метрик запущен", zap.String("address", server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ошибка HTTP сервера метрик", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка при остановке HTTP сервера метрик", zap.Error(err))
	}
}
