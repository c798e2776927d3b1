package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthChecker проверяет доступность зависимости
type HealthChecker func(ctx context.Context) error

// Handler обрабатывает HTTP запросы для метрик и проверки здоровья
type Handler struct {
	metrics *Metrics
	checks  map[string]HealthChecker
	logger  *zap.Logger
}

// NewHandler создает новый обработчик метрик
func NewHandler(metrics *Metrics, checks map[string]HealthChecker, logger *zap.Logger) *Handler {
	return &Handler{
		metrics: metrics,
		checks:  checks,
		logger:  logger,
	}
}

// MetricsHandler возвращает HTTP handler для Prometheus метрик
func (h *Handler) MetricsHandler() http.Handler {
	return h.metrics.Handler()
}

// HealthHandler возвращает статус здоровья сервиса
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok", "service": "compensation-engine"}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("проверка здоровья не пройдена", zap.String("check", name), zap.Error(err))
			body[name] = err.Error()
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		body[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("ошибка записи ответа health", zap.Error(err))
	}
}
