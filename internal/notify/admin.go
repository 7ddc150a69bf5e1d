// Package notify delivers out-of-band operator notifications.
package notify

import (
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// AdminNotifier sends fire-and-forget messages to the operator chat.
// Failures are swallowed; this channel is never on the critical path of a
// user-visible operation.
type AdminNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    *slog.Logger
}

func NewAdminNotifier(api *tgbotapi.BotAPI, chatID int64, log *slog.Logger) *AdminNotifier {
	return &AdminNotifier{api: api, chatID: chatID, log: log}
}

func (n *AdminNotifier) Notify(text string) {
	if n.chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		n.log.Debug("admin notify failed", "err", err)
	}
}
