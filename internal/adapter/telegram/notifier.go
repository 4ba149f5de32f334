// Package telegram отправляет алерты пробера в чат Telegram.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"

	"resilience/internal/probe"
	"resilience/internal/shared"
)

// Options настраивают Notifier. Все поля необязательны.
type Options struct {
	// ServerURL заменяет https://api.telegram.org, например для локального Bot API.
	ServerURL string
	// HTTPClient выполняет запросы к Bot API.
	HTTPClient bot.HttpClient
	// MinInterval - минимальный интервал между алертами по одной цели.
	MinInterval time.Duration
	Logger      *slog.Logger
}

// Notifier отправляет probe.Alert сообщением в один чат.
type Notifier struct {
	b       *bot.Bot
	chatID  int64
	limiter *RateLimiter
	log     *slog.Logger
}

var _ probe.Alerter = (*Notifier)(nil)

// NewNotifier создает Notifier. Запрос getMe при создании не выполняется.
func NewNotifier(token string, chatID int64, o Options) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("%w: telegram token and chat id are required", shared.ErrValidation)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	opts := []bot.Option{bot.WithSkipGetMe()}
	if o.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(o.ServerURL))
	}
	if o.HTTPClient != nil {
		opts = append(opts, bot.WithHTTPClient(time.Minute, o.HTTPClient))
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Notifier{
		b:       b,
		chatID:  chatID,
		limiter: NewRateLimiter(o.MinInterval),
		log:     o.Logger,
	}, nil
}

// Alert отправляет сообщение о цели. Повторные алерты по той же цели
// в пределах MinInterval пропускаются.
func (n *Notifier) Alert(ctx context.Context, a probe.Alert) error {
	if !n.limiter.Allow(a.Target) {
		n.log.Debug("alert suppressed", "target", a.Target, "run_id", a.RunID)
		return nil
	}

	_, err := n.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   a.String(),
	})
	if err != nil {
		// следующий алерт по цели не должен быть подавлен
		n.limiter.Reset(a.Target)
		return fmt.Errorf("send telegram alert: %w", shared.MarkKind(err, shared.KindUnavailable))
	}
	n.log.Info("alert sent", "target", a.Target, "run_id", a.RunID)
	return nil
}
