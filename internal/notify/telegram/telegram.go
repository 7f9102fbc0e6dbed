// Package telegram pushes household notifications to a family group chat.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"hearthd/internal/model"
	"hearthd/internal/notify"
)

type Config struct {
	Token  string
	ChatID int64
}

// Sink sends each notification as a plain-text message. Outbound only; the
// bot never polls for updates.
type Sink struct {
	bot  *tele.Bot
	chat *tele.Chat
}

func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Sink{bot: b, chat: &tele.Chat{ID: cfg.ChatID}}, nil
}

func (s *Sink) Name() string { return "telegram" }

func (s *Sink) Deliver(ctx context.Context, n model.Notification) error {
	text := n.Title
	if n.Body != "" {
		text += "\n" + n.Body
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(s.chat, text, tele.NoPreview)
		done <- err
	}()

	select {
	case err := <-done:
		// A blocked bot or a gone chat will not heal on retry.
		if errors.Is(err, tele.ErrBlockedByUser) || errors.Is(err, tele.ErrChatNotFound) {
			return notify.Permanent(err)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(15 * time.Second):
		return errors.New("telegram send timed out")
	}
}
