package scheduler

import (
	"context"
	"fmt"

	"compensation-engine/pkg/models"

	"go.uber.org/zap"
)

// Cycle пакетный цикл начислений
type Cycle interface {
	RunCycle(ctx context.Context) (*models.CycleResult, error)
}

// CycleJob запускает цикл начислений по расписанию
type CycleJob struct {
	name   string
	cycle  Cycle
	logger *zap.Logger
}

// NewCycleJob создает задачу для цикла начислений
func NewCycleJob(name string, cycle Cycle, logger *zap.Logger) *CycleJob {
	return &CycleJob{name: name, cycle: cycle, logger: logger}
}

// Name возвращает имя задачи
func (j *CycleJob) Name() string {
	return j.name
}

// Run выполняет цикл. Ошибки отдельных пользователей попадают в сводку, а не в err.
func (j *CycleJob) Run(ctx context.Context) error {
	j.logger.Info("запуск цикла начислений", zap.String("task", j.name))

	result, err := j.cycle.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("цикл %s: %w", j.name, err)
	}

	if result.Reason != "" {
		j.logger.Info("цикл пропущен",
			zap.String("task", j.name),
			zap.String("reason", result.Reason))
		return nil
	}
	if result.Failed > 0 {
		j.logger.Warn("цикл завершен с ошибками",
			zap.String("task", j.name),
			zap.Int("failed", result.Failed),
			zap.Int("processed", result.Processed))
	}
	return nil
}
