// Package alert сообщает о нарушениях структуры деревьев: метрика, лог и уведомление администратора.
package alert

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"compensation-engine/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Виды нарушений структуры
const (
	KindCycle         = "cycle"
	KindSelfParent    = "self_parent"
	KindMissingParent = "missing_parent"
	KindAutopoolChain = "autopool_chain"
)

// Alarm описание нарушения
type Alarm struct {
	Kind    string
	Tree    string // binary, autopool, referral
	UserID  int64
	Details string
	At      time.Time
}

// Notifier доставляет оповещение администратору
type Notifier interface {
	Notify(ctx context.Context, alarm Alarm) error
}

// LogNotifier пишет оповещение в лог
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создает оповещение через лог
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify пишет оповещение в лог
func (n *LogNotifier) Notify(_ context.Context, alarm Alarm) error {
	n.logger.Error("нарушение структуры дерева",
		zap.String("kind", alarm.Kind),
		zap.String("tree", alarm.Tree),
		zap.Int64("user_id", alarm.UserID),
		zap.String("details", alarm.Details))
	return nil
}

// sender отправляет сообщения Telegram
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier отправляет оповещение в чат администратора
type TelegramNotifier struct {
	bot    sender
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier создает оповещение через Telegram бота
func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram бота: %w", err)
	}
	logger.Info("Telegram оповещения подключены", zap.String("bot", bot.Self.UserName))
	return &TelegramNotifier{bot: bot, chatID: chatID, logger: logger}, nil
}

// Notify отправляет сообщение в чат администратора
func (n *TelegramNotifier) Notify(_ context.Context, alarm Alarm) error {
	text := fmt.Sprintf("⚠️ <b>Нарушение структуры</b>\nДерево: %s\nТип: %s\nПользователь: %d\n%s\n%s",
		html.EscapeString(alarm.Tree),
		html.EscapeString(alarm.Kind),
		alarm.UserID,
		html.EscapeString(alarm.Details),
		alarm.At.UTC().Format(time.RFC3339))

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("ошибка отправки оповещения: %w", err)
	}
	return nil
}

// Reporter регистрирует нарушения: метрика, лог и уведомление с подавлением повторов
type Reporter struct {
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewReporter создает регистратор нарушений
func NewReporter(notifier Notifier, m *metrics.Metrics, logger *zap.Logger) *Reporter {
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Reporter{
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		cooldown: 10 * time.Minute,
		now:      time.Now,
		sent:     make(map[string]time.Time),
	}
}

// Structural регистрирует нарушение структуры дерева. Безопасен для nil-получателя.
func (r *Reporter) Structural(ctx context.Context, tree, kind string, userID int64, details string) {
	if r == nil {
		return
	}
	r.metrics.RecordStructuralInconsistency(kind)

	alarm := Alarm{Kind: kind, Tree: tree, UserID: userID, Details: details, At: r.now()}
	r.logger.Error("обнаружено нарушение структуры",
		zap.String("tree", tree),
		zap.String("kind", kind),
		zap.Int64("user_id", userID),
		zap.String("details", details))

	key := fmt.Sprintf("%s/%s/%d", tree, kind, userID)
	r.mu.Lock()
	last, seen := r.sent[key]
	if seen && alarm.At.Sub(last) < r.cooldown {
		r.mu.Unlock()
		return
	}
	r.sent[key] = alarm.At
	r.mu.Unlock()

	if err := r.notifier.Notify(ctx, alarm); err != nil {
		r.logger.Warn("не удалось доставить оповещение", zap.Error(err))
	}
}
