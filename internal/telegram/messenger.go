package telegram

import (
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Messenger is the outbound half of the transport, shared by the bot
// frontend and the services that message users directly.
type Messenger struct {
	api *tgbotapi.BotAPI
	log *slog.Logger
}

func NewMessenger(api *tgbotapi.BotAPI, log *slog.Logger) *Messenger {
	return &Messenger{api: api, log: log}
}

// SendText implements service.Sender.
func (m *Messenger) SendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := m.api.Send(msg); err != nil {
		m.log.Error("send text", "err", err)
	}
}

// SendPhoto implements service.Sender.
func (m *Messenger) SendPhoto(chatID int64, data []byte, caption string) {
	if len(data) == 0 {
		m.SendText(chatID, "Не удалось получить результат.")
		return
	}
	cfg := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  "tryon.png",
		Bytes: data,
	})
	cfg.Caption = caption
	if _, err := m.api.Send(cfg); err != nil {
		m.log.Error("send photo", "err", err)
	}
}
