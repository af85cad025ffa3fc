package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/riskwatch/internal/metrics"
	"github.com/xaenox/riskwatch/internal/models"
)

const notifierTelegram = "telegram"

type TelegramConfig struct {
	Token      string
	ChatID     int64
	RiskLevels []string
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier alerts a parent chat about results at the configured risk levels.
type TelegramNotifier struct {
	api    sender
	chatID int64
	levels map[string]struct{}
	logger *zap.Logger
}

func NewTelegramNotifier(cfg TelegramConfig, logger *zap.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return newTelegramNotifier(api, cfg, logger), nil
}

func newTelegramNotifier(api sender, cfg TelegramConfig, logger *zap.Logger) *TelegramNotifier {
	levels := cfg.RiskLevels
	if len(levels) == 0 {
		levels = []string{"high"}
	}
	set := make(map[string]struct{}, len(levels))
	for _, l := range levels {
		set[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}
	return &TelegramNotifier{
		api:    api,
		chatID: cfg.ChatID,
		levels: set,
		logger: logger,
	}
}

func (n *TelegramNotifier) Name() string { return notifierTelegram }

// Notify skips results whose risk level is not configured.
func (n *TelegramNotifier) Notify(_ context.Context, r *models.ClassificationResult) error {
	level := strings.ToLower(strings.TrimSpace(r.Assessment.RiskLevel))
	if _, ok := n.levels[level]; !ok {
		metrics.Notifications.WithLabelValues(notifierTelegram, "skipped").Inc()
		n.logger.Debug("Risk level below notification threshold",
			zap.String("cycle_id", r.CycleID),
			zap.String("risk_level", r.Assessment.RiskLevel))
		return nil
	}

	msg := tgbotapi.NewMessage(n.chatID, formatAlert(r))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := n.api.Send(msg); err != nil {
		metrics.Notifications.WithLabelValues(notifierTelegram, "error").Inc()
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}

	metrics.Notifications.WithLabelValues(notifierTelegram, "sent").Inc()
	n.logger.Info("Telegram alert sent",
		zap.String("cycle_id", r.CycleID),
		zap.Int64("chat_id", n.chatID))
	return nil
}

func formatAlert(r *models.ClassificationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ *%s risk: %s*\n\n", escapeMarkdown(strings.ToUpper(r.Assessment.RiskLevel)), escapeMarkdown(r.Assessment.RiskType))
	fmt.Fprintf(&b, "*Why:* %s\n", escapeMarkdown(r.Assessment.RiskyReason))
	fmt.Fprintf(&b, "*Topic:* %s\n", escapeMarkdown(r.Notification.ConversationTopic))
	fmt.Fprintf(&b, "*Summary:* %s\n\n", escapeMarkdown(r.Notification.ConversationSummary))
	fmt.Fprintf(&b, "```\n%s\n```", escapeCode(r.RecentChat))
	return b.String()
}

// escapeMarkdown escapes the MarkdownV2 special characters.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

// escapeCode escapes text placed inside a MarkdownV2 pre block.
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}
