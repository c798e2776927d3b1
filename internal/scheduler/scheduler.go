package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job интерфейс для периодических задач
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler управляет запуском периодических задач по cron-расписанию
type Scheduler struct {
	logger *zap.Logger
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]bool
}

// NewScheduler создает новый планировщик задач
func NewScheduler(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:  logger,
		cron:    cron.New(),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]bool),
	}
}

// AddJob добавляет задачу с расписанием в стандартном формате cron
func (s *Scheduler) AddJob(spec string, job Job) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunJob(s.ctx, job) }); err != nil {
		return fmt.Errorf("некорректное расписание %q задачи %s: %w", spec, job.Name(), err)
	}
	s.logger.Info("задача добавлена в планировщик",
		zap.String("job", job.Name()),
		zap.String("spec", spec))
	return nil
}

// Start запускает планировщик и останавливает его при отмене ctx
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("запуск планировщика задач", zap.Int("jobs_count", len(s.cron.Entries())))
	s.cron.Start()

	<-ctx.Done()
	s.Stop()
}

// Stop прекращает запуск новых задач и ждет завершения текущих
func (s *Scheduler) Stop() {
	s.logger.Info("остановка планировщика задач")
	s.cancel()
	<-s.cron.Stop().Done()
}

// RunJob выполняет задачу, если предыдущий запуск той же задачи завершен.
// Возвращает false, если запуск пропущен.
func (s *Scheduler) RunJob(ctx context.Context, job Job) bool {
	name := job.Name()

	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Warn("предыдущий запуск задачи еще выполняется, пропускаем", zap.String("job", name))
		return false
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	s.logger.Debug("запуск задачи", zap.String("job", name))
	if err := job.Run(ctx); err != nil {
		s.logger.Error("ошибка выполнения задачи",
			zap.Error(err),
			zap.String("job", name))
	}
	return true
}
