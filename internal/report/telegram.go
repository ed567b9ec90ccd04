package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender abstracts tgbotapi.BotAPI for tests.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// RetryConfig controls redelivery of a report to one manager.
type RetryConfig struct {
	MaxRetries int
	Delays     []time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		Delays:     []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	if len(c.Delays) == 0 {
		return 0
	}
	if attempt < len(c.Delays) {
		return c.Delays[attempt]
	}
	return c.Delays[len(c.Delays)-1]
}

// TelegramNotifier sends report workbooks to clinic managers.
type TelegramNotifier struct {
	bot      TelegramSender
	managers []int64
	retry    RetryConfig
}

func NewTelegramNotifier(bot TelegramSender, managers []int64, retry RetryConfig) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, managers: managers, retry: retry}
}

// SendDocument sends the file to every manager. All managers are attempted;
// failures are joined.
func (n *TelegramNotifier) SendDocument(ctx context.Context, name string, data []byte, caption string) error {
	var errs []error
	for _, chatID := range n.managers {
		if err := n.sendWithRetry(ctx, chatID, name, data, caption); err != nil {
			errs = append(errs, fmt.Errorf("send report to %d: %w", chatID, err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func (n *TelegramNotifier) sendWithRetry(ctx context.Context, chatID int64, name string, data []byte, caption string) error {
	var lastErr error
	for attempt := 0; attempt <= n.retry.MaxRetries; attempt++ {
		// FileReader is consumed by each upload.
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{
			Name:   name,
			Reader: bytes.NewReader(data),
		})
		doc.Caption = caption

		_, err := n.bot.Send(doc)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == n.retry.MaxRetries {
			break
		}

		wait := n.retry.delay(attempt)
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case http.StatusTooManyRequests:
				if tgErr.RetryAfter > 0 {
					wait = time.Duration(tgErr.RetryAfter) * time.Second
				}
			case http.StatusForbidden, http.StatusBadRequest:
				// bot blocked or chat gone
				return err
			}
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
