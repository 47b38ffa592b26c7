package telegramNotifier

import (
	"context"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/piq110/capcore-backend-sub001/config"
	"github.com/piq110/capcore-backend-sub001/utils"
)

// TelegramNotifier pushes operational alerts (stuck transfers, settlement
// rollbacks, reconciliation drift) to an ops chat.
type TelegramNotifier struct {
	bot    *tele.Bot
	chatID int64
}

func New(cfg *config.Config) (*TelegramNotifier, error) {
	settings := tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: &tele.LongPoller{Timeout: cfg.Telegram.PollTimeout},
	}

	bot, err := tele.NewBot(settings)
	if err != nil {
		return nil, err
	}

	return &TelegramNotifier{bot: bot, chatID: cfg.Telegram.AlertChatID}, nil
}

func (n *TelegramNotifier) Alert(ctx context.Context, message string) error {
	rqID := utils.GetRequestIDFromCtx(ctx)

	_, err := n.bot.Send(&tele.Chat{ID: n.chatID}, message)
	if err != nil {
		slog.Error("telegram alert send failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	slog.Debug("telegram alert sent", slog.String("rqID", rqID), slog.String("message", message))
	return nil
}
