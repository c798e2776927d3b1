package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics содержит все метрики движка начислений.
// Методы безопасны для nil-получателя.
type Metrics struct {
	logger   *zap.Logger
	gatherer prometheus.Gatherer

	// Счетчики
	incomeCredited  *prometheus.CounterVec
	incomeRecords   *prometheus.CounterVec
	cycleRuns       *prometheus.CounterVec
	cycleUsers      *prometheus.CounterVec
	purchases       *prometheus.CounterVec
	withdrawals     *prometheus.CounterVec
	structuralAlarm *prometheus.CounterVec
	lockContention  *prometheus.CounterVec

	// Гистограммы
	cycleDuration  *prometheus.HistogramVec
	purchaseTokens prometheus.Histogram

	// Gauge метрики
	activeUsers     prometheus.Gauge
	autopoolMembers prometheus.Gauge
	tokenPrice      prometheus.Gauge

	mu sync.RWMutex
}

// New создает метрики и регистрирует их в reg (nil - глобальный регистр)
func New(logger *zap.Logger, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		logger:   logger,
		gatherer: gatherer,

		incomeCredited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "income_credited_tokens_total",
				Help: "Сумма начисленного дохода в токенах",
			},
			[]string{"type"}, // roi, level, binary, autopool, reward
		),

		incomeRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "income_records_total",
				Help: "Количество записей дохода",
			},
			[]string{"type"},
		),

		cycleRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cycle_runs_total",
				Help: "Количество запусков циклов начисления",
			},
			[]string{"task", "status"}, // status: success, failed, overlap
		),

		cycleUsers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cycle_users_total",
				Help: "Результаты обработки пользователей в циклах",
			},
			[]string{"task", "status"}, // status: success, skipped, error
		),

		purchases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchases_total",
				Help: "Количество покупок пакетов",
			},
			[]string{"status"},
		),

		withdrawals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "withdrawals_total",
				Help: "Количество выводов",
			},
			[]string{"status"},
		),

		structuralAlarm: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "structural_inconsistency_total",
				Help: "Обнаруженные нарушения структуры деревьев",
			},
			[]string{"kind"}, // cycle, self_parent, missing_parent
		),

		lockContention: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "user_lock_contention_total",
				Help: "Попытки захвата занятой блокировки пользователя",
			},
			[]string{"operation"},
		),

		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cycle_duration_seconds",
				Help:    "Длительность цикла начисления в секундах",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"task"},
		),

		purchaseTokens: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "purchase_tokens",
				Help:    "Объем покупки в токенах",
				Buckets: prometheus.ExponentialBuckets(10_000, 4, 10),
			},
		),

		activeUsers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_users",
				Help: "Количество активных пользователей в последнем цикле",
			},
		),

		autopoolMembers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autopool_members",
				Help: "Последняя выданная позиция автопула",
			},
		),

		tokenPrice: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "token_price_usd",
				Help: "Курс токена, использованный последним циклом",
			},
		),
	}

	reg.MustRegister(
		m.incomeCredited,
		m.incomeRecords,
		m.cycleRuns,
		m.cycleUsers,
		m.purchases,
		m.withdrawals,
		m.structuralAlarm,
		m.lockContention,
		m.cycleDuration,
		m.purchaseTokens,
		m.activeUsers,
		m.autopoolMembers,
		m.tokenPrice,
	)

	return m
}

// IncrementCounter увеличивает счетчик
func (m *Metrics) IncrementCounter(name string, labels ...string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var counter *prometheus.CounterVec

	switch name {
	case "income_records_total":
		counter = m.incomeRecords
	case "cycle_runs_total":
		counter = m.cycleRuns
	case "cycle_users_total":
		counter = m.cycleUsers
	case "purchases_total":
		counter = m.purchases
	case "withdrawals_total":
		counter = m.withdrawals
	case "structural_inconsistency_total":
		counter = m.structuralAlarm
	case "user_lock_contention_total":
		counter = m.lockContention
	default:
		m.logger.Error("неизвестная метрика", zap.String("name", name))
		return
	}

	counter.WithLabelValues(labels...).Inc()
}

// SetGauge устанавливает значение gauge метрики
func (m *Metrics) SetGauge(name string, value float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var gauge prometheus.Gauge

	switch name {
	case "active_users":
		gauge = m.activeUsers
	case "autopool_members":
		gauge = m.autopoolMembers
	case "token_price_usd":
		gauge = m.tokenPrice
	default:
		m.logger.Error("неизвестная gauge метрика", zap.String("name", name))
		return
	}

	gauge.Set(value)
}

// ObserveHistogram добавляет наблюдение в гистограмму
func (m *Metrics) ObserveHistogram(name string, value float64, labels ...string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "cycle_duration_seconds":
		m.cycleDuration.WithLabelValues(labels...).Observe(value)
	case "purchase_tokens":
		m.purchaseTokens.Observe(value)
	default:
		m.logger.Error("неизвестная гистограмма", zap.String("name", name))
	}
}

// RecordIncome записывает начисленный доход
func (m *Metrics) RecordIncome(incomeType string, amount float64) {
	if m == nil {
		return
	}
	m.incomeCredited.WithLabelValues(incomeType).Add(amount)
	m.IncrementCounter("income_records_total", incomeType)
}

// RecordCycle записывает итог цикла начисления
func (m *Metrics) RecordCycle(task string, succeeded, skipped, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if failed > 0 {
		status = "partial"
	}
	m.IncrementCounter("cycle_runs_total", task, status)
	m.cycleUsers.WithLabelValues(task, "success").Add(float64(succeeded))
	m.cycleUsers.WithLabelValues(task, "skipped").Add(float64(skipped))
	m.cycleUsers.WithLabelValues(task, "error").Add(float64(failed))
	m.ObserveHistogram("cycle_duration_seconds", duration.Seconds(), task)
	m.SetGauge("active_users", float64(succeeded+skipped+failed))
}

// RecordCycleFailure записывает цикл, завершившийся ошибкой до обработки пользователей
func (m *Metrics) RecordCycleFailure(task, reason string) {
	m.IncrementCounter("cycle_runs_total", task, reason)
}

// RecordPurchase записывает покупку пакета
func (m *Metrics) RecordPurchase(success bool, tokens float64) {
	if !success {
		m.IncrementCounter("purchases_total", "failed")
		return
	}
	m.IncrementCounter("purchases_total", "success")
	m.ObserveHistogram("purchase_tokens", tokens)
}

// RecordWithdrawal записывает вывод
func (m *Metrics) RecordWithdrawal(success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	m.IncrementCounter("withdrawals_total", status)
}

// RecordStructuralInconsistency записывает нарушение структуры дерева
func (m *Metrics) RecordStructuralInconsistency(kind string) {
	m.IncrementCounter("structural_inconsistency_total", kind)
}

// RecordLockContention записывает конфликт блокировки пользователя
func (m *Metrics) RecordLockContention(operation string) {
	m.IncrementCounter("user_lock_contention_total", operation)
}

// Handler возвращает HTTP handler для метрик
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
