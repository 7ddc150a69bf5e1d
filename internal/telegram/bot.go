package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/everwear/tryonbot/internal/service"
)

const categoryCallbackPrefix = "cat:"

var errNotImage = errors.New("not an image")

// Bot is the transport glue: it routes inbound updates to the session
// controller and renders its outcomes as texts, photos and keyboards.
// Business logic lives in the services.
type Bot struct {
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	messenger  *Messenger
	tryon      *service.TryOnService
	catalog    *service.CatalogService
	httpClient *http.Client
}

func NewBot(api *tgbotapi.BotAPI, log *slog.Logger, messenger *Messenger, tryon *service.TryOnService, catalog *service.CatalogService) *Bot {
	return &Bot{
		api:        api,
		log:        log,
		messenger:  messenger,
		tryon:      tryon,
		catalog:    catalog,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update := <-updates:
			b.handleUpdate(ctx, update)
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

// handleUpdate is the top-level catch point: no failure may escape it.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	var chatID int64
	if update.Message != nil {
		chatID = update.Message.Chat.ID
	} else if update.CallbackQuery != nil && update.CallbackQuery.Message != nil {
		chatID = update.CallbackQuery.Message.Chat.ID
	}
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("update handler panic", "chat", chatID, "panic", r)
			if chatID != 0 {
				b.SendText(chatID, "Что-то пошло не так. Попробуйте ещё раз.")
			}
		}
	}()

	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if len(msg.Photo) > 0 || msg.Document != nil {
		b.handlePhoto(ctx, msg)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}

	// Stray text: hint according to the workflow position.
	switch b.tryon.State(msg.Chat.ID) {
	case service.StateAwaitingModelChoice:
		b.SendText(msg.Chat.ID, "Выберите модель кнопками выше или отправьте новое фото.")
	case service.StateComposing:
		b.SendText(msg.Chat.ID, "Подождите, примерка обрабатывается.")
	default:
		b.SendText(msg.Chat.ID, "Отправьте фото, чтобы начать примерку.")
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.SendText(msg.Chat.ID, "Привет! Отправьте своё фото, и я покажу, как на вас сядет одежда из каталога. Первая примерка бесплатна.")
	case "restart":
		b.tryon.Restart(msg.Chat.ID)
		b.SendText(msg.Chat.ID, "Начнём заново! Отправьте фото.")
	default:
		b.SendText(msg.Chat.ID, "Неизвестная команда. Отправьте фото, чтобы начать примерку.")
	}
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	data, contentType, err := b.extractImage(ctx, msg)
	if err != nil {
		if errors.Is(err, errNotImage) {
			b.SendText(msg.Chat.ID, "Это не изображение. Пришлите фото.")
			return
		}
		b.log.Error("photo download failed", "err", err)
		b.SendText(msg.Chat.ID, "Не удалось получить фото, попробуйте снова.")
		return
	}

	outcome, err := b.tryon.AcceptPhoto(ctx, msg.Chat.ID, data, contentType)
	if err != nil {
		b.log.Error("accept photo failed", "err", err)
		b.SendText(msg.Chat.ID, "Не удалось сохранить фото, попробуйте снова.")
		return
	}

	switch outcome {
	case service.PhotoAccepted:
		b.sendCategoryPicker(ctx, msg.Chat.ID, "Фото получено! Выберите категорию:")
	case service.PhotoReplaced:
		b.sendCategoryPicker(ctx, msg.Chat.ID, "Фото обновлено! Выберите категорию:")
	}
	// Denied and busy outcomes are already answered by the controller.
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	data := cb.Data

	switch {
	case strings.HasPrefix(data, categoryCallbackPrefix):
		category := strings.TrimPrefix(data, categoryCallbackPrefix)
		b.ackCallback(cb.ID, "")
		b.sendModelPicker(ctx, chatID, category)
	case strings.Contains(data, ":"):
		parts := strings.SplitN(data, ":", 2)
		b.ackCallback(cb.ID, "")
		if _, err := b.tryon.ChooseModel(ctx, chatID, parts[0], parts[1]); err != nil {
			b.log.Error("choose model failed", "err", err)
			b.SendText(chatID, "Не удалось загрузить модель, попробуйте снова.")
		}
	default:
		b.ackCallback(cb.ID, "Неизвестный выбор")
	}
}

func (b *Bot) sendCategoryPicker(ctx context.Context, chatID int64, text string) {
	categories, err := b.catalog.Categories(ctx)
	if err != nil {
		b.log.Error("list categories failed", "err", err)
		b.SendText(chatID, "Каталог временно недоступен, попробуйте позже.")
		return
	}
	if len(categories) == 0 {
		b.SendText(chatID, "Каталог пока пуст, загляните позже.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, category := range categories {
		btn := tgbotapi.NewInlineKeyboardButtonData(category, categoryCallbackPrefix+category)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send category picker", "err", err)
	}
}

func (b *Bot) sendModelPicker(ctx context.Context, chatID int64, category string) {
	names, err := b.catalog.Models(ctx, category)
	if err != nil {
		b.log.Error("list models failed", "category", category, "err", err)
		b.SendText(chatID, "Каталог временно недоступен, попробуйте позже.")
		return
	}
	if len(names) == 0 {
		b.SendText(chatID, "В этой категории пока нет моделей.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, name := range names {
		btn := tgbotapi.NewInlineKeyboardButtonData(name, fmt.Sprintf("%s:%s", category, name))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn))
	}
	msg := tgbotapi.NewMessage(chatID, "Выберите модель:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send model picker", "err", err)
	}
}

func (b *Bot) ackCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

// SendText delegates to the shared messenger.
func (b *Bot) SendText(chatID int64, text string) {
	b.messenger.SendText(chatID, text)
}

func (b *Bot) extractImage(ctx context.Context, msg *tgbotapi.Message) ([]byte, string, error) {
	var fileID string
	contentType := "image/jpeg"

	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		fileID = photo.FileID
	case msg.Document != nil:
		if mt := strings.ToLower(msg.Document.MimeType); mt != "" && !strings.HasPrefix(mt, "image/") {
			return nil, "", errNotImage
		}
		fileID = msg.Document.FileID
		if msg.Document.MimeType != "" {
			contentType = msg.Document.MimeType
		}
	default:
		return nil, "", errNotImage
	}

	data, detectedType, err := b.downloadFile(ctx, fileID)
	if err != nil {
		return nil, "", err
	}
	if detectedType != "" {
		contentType = detectedType
	}
	return data, contentType, nil
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", b.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errNotImage
	}
}
