// Package telegram sends shaped payloads to a Telegram chat via telebot.
//
// Outbound only: the pipeline never polls for updates, so the bot is created
// without a poller.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"alertpipe/internal/transport"
	logx "alertpipe/pkg/logx"
)

type Config struct {
	Token string
	// ChatID is the default destination when the recipient is not itself a
	// numeric chat id.
	ChatID int64
}

type Sender struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		// No Poller: outbound-only bot.
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{cfg: cfg, bot: b, log: log}, nil
}

func (s *Sender) Send(ctx context.Context, recipient string, p transport.Payload) error {
	chatID := s.cfg.ChatID
	if id, err := strconv.ParseInt(strings.TrimSpace(recipient), 10, 64); err == nil && id != 0 {
		chatID = id
	}
	if chatID == 0 {
		// Nowhere to send; retrying won't help.
		return &transport.SendError{StatusCode: 400, Err: errors.New("telegram: no chat id for recipient")}
	}

	// telebot has no context-aware send; bound the call by checking ctx first
	// and relying on the bot's own HTTP timeout after that.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	_, err := s.bot.Send(tele.ChatID(chatID), string(p.Body), &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	return classify(err)
}

// classify maps telebot API errors onto status-coded SendErrors so the
// executor's transient/permanent split applies (flood waits arrive as 429).
func classify(err error) error {
	if err == nil {
		return nil
	}
	var terr *tele.Error
	if errors.As(err, &terr) && terr.Code != 0 {
		return &transport.SendError{StatusCode: terr.Code, Err: err}
	}
	// Network-level errors stay unclassified (treated as transient).
	return err
}
