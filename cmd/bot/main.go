package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/everwear/tryonbot/internal/compositor"
	"github.com/everwear/tryonbot/internal/config"
	"github.com/everwear/tryonbot/internal/database"
	"github.com/everwear/tryonbot/internal/notify"
	"github.com/everwear/tryonbot/internal/payment"
	"github.com/everwear/tryonbot/internal/repository"
	"github.com/everwear/tryonbot/internal/service"
	"github.com/everwear/tryonbot/internal/storage"
	"github.com/everwear/tryonbot/internal/telegram"
	"github.com/everwear/tryonbot/internal/webhook"
	"github.com/everwear/tryonbot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	store, err := storage.NewStore(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
	})
	if err != nil {
		log.Fatalf("media store: %v", err)
	}

	notifier := notify.NewAdminNotifier(botAPI, cfg.AdminChatID, logr)
	links := payment.NewLinkIssuer(cfg.Wallet, "Оплата примерки", cfg.DeepLink())
	composer := compositor.NewClient(cfg, logr)

	userRepo := repository.NewUserRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	entitlements := service.NewEntitlementService(userRepo, notifier, logr)
	catalog := service.NewCatalogService(store)

	messenger := telegram.NewMessenger(botAPI, logr)
	tryon := service.NewTryOnService(entitlements, store, composer, messenger, notifier, links, cfg, cfg.UnitPrice, cfg.ComposeTimeout, logr)
	bot := telegram.NewBot(botAPI, logr, messenger, tryon, catalog)

	payments := service.NewPaymentService(entitlements, paymentRepo, messenger, notifier, cfg.UnitPrice, logr)

	server := webhook.NewServer(cfg.WebhookListenAddr, cfg.AdminUsername, cfg.AdminPassword, cfg.NotificationToken, logr, userRepo, entitlements, payments, messenger, notifier)
	go func() {
		if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("webhook server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
