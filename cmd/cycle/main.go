package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"compensation-engine/internal/app"
	"compensation-engine/internal/binary"
	"compensation-engine/internal/config"
	"compensation-engine/internal/migrations"
	"compensation-engine/internal/roi"
	"compensation-engine/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	var (
		task     = flag.String("task", "", "Цикл начислений: roi, binary, weekly, rank")
		userID   = flag.Int64("user", 0, "ID пользователя для обработки (0 = все пользователи, только roi и binary)")
		autopool = flag.Int64("autopool", 0, "ID пользователя для постановки в автопул")
		status   = flag.Bool("migrations", false, "Показать статус миграций")
		rollback = flag.Bool("rollback", false, "Откатить последнюю миграцию")
	)
	flag.Parse()

	// Инициализация логгера
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	switch {
	case *status:
		if err := migrations.GetMigrationStatus(cfg, logger); err != nil {
			logger.Fatal("Ошибка получения статуса миграций", zap.Error(err))
		}
		return
	case *rollback:
		if err := migrations.RollbackLast(cfg, logger); err != nil {
			logger.Fatal("Ошибка отката миграции", zap.Error(err))
		}
		return
	}

	// Подключение к базе данных
	st, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Ошибка подключения к базе данных", zap.Error(err))
	}

	application, err := app.New(cfg, st, prometheus.NewRegistry(), logger)
	if err != nil {
		st.Close()
		logger.Fatal("Ошибка инициализации сервисов", zap.Error(err))
	}
	defer application.Close()

	ctx := context.Background()

	var out any
	switch {
	case *autopool > 0:
		out, err = application.Autopool.Enroll(ctx, *autopool)
	case *task != "":
		out, err = runTask(ctx, application, *task, *userID)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("Ошибка выполнения", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Fatal("Ошибка вывода результата", zap.Error(err))
	}
}

// runTask запускает цикл целиком или для одного пользователя
func runTask(ctx context.Context, a *app.App, task string, userID int64) (any, error) {
	if userID > 0 {
		switch task {
		case roi.Task:
			return a.ROI.ProcessUser(ctx, userID)
		case binary.Task:
			return a.Binary.ProcessUser(ctx, userID)
		default:
			return nil, fmt.Errorf("цикл %s не поддерживает обработку одного пользователя", task)
		}
	}

	cycle, ok := a.Cycles()[task]
	if !ok {
		return nil, fmt.Errorf("неизвестный цикл: %s", task)
	}
	return cycle.RunCycle(ctx)
}
