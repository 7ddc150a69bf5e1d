package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/everwear/tryonbot/internal/models"
	"github.com/everwear/tryonbot/internal/payment"
	"github.com/everwear/tryonbot/internal/repository"
)

// Sender delivers messages to users over the chat transport.
type Sender interface {
	SendText(chatID int64, text string)
	SendPhoto(chatID int64, data []byte, caption string)
}

// PaymentLog is the idempotency log over the payments table.
type PaymentLog interface {
	Record(ctx context.Context, payment *models.Payment) error
	FindByOperationID(ctx context.Context, operationID string) (*models.Payment, error)
}

// PaymentService reconciles verified webhook notifications with user
// entitlements: amount is floor-divided by the unit price, the residual is
// discarded, and redelivered notifications grant nothing.
type PaymentService struct {
	entitlements *EntitlementService
	payments     PaymentLog
	sender       Sender
	notifier     Notifier
	unitPrice    int
	log          *slog.Logger
}

func NewPaymentService(entitlements *EntitlementService, payments PaymentLog, sender Sender, notifier Notifier, unitPrice int, log *slog.Logger) *PaymentService {
	return &PaymentService{
		entitlements: entitlements,
		payments:     payments,
		sender:       sender,
		notifier:     notifier,
		unitPrice:    unitPrice,
		log:          log,
	}
}

// HandleNotification processes one verified payment event. Duplicate
// operation ids are acknowledged without granting.
func (s *PaymentService) HandleNotification(ctx context.Context, n payment.Notification) error {
	if n.OperationID != "" {
		existing, err := s.payments.FindByOperationID(ctx, n.OperationID)
		if err != nil {
			return fmt.Errorf("lookup operation %s: %w", n.OperationID, err)
		}
		if existing != nil {
			s.log.Info("duplicate payment notification", "operation", n.OperationID, "user", n.UserID)
			return nil
		}
	}

	credits := n.Amount / s.unitPrice
	if credits == 0 {
		s.notifier.Notify(fmt.Sprintf("Платёж меньше стоимости примерки: от пользователя %d. Сумма: %d₽ (цена %d₽)", n.UserID, n.Amount, s.unitPrice))
		s.sender.SendText(n.UserID, fmt.Sprintf("Оплата %d₽ получена, но этого недостаточно для примерки (стоимость %d₽).", n.Amount, s.unitPrice))
		return s.record(ctx, n, 0)
	}

	if err := s.entitlements.Grant(ctx, n.UserID, credits); err != nil {
		s.notifier.Notify(fmt.Sprintf("Не удалось начислить %d примерок пользователю %d: %v", credits, n.UserID, err))
		return err
	}

	if err := s.record(ctx, n, credits); err != nil {
		// Credits are already granted; the log failure only weakens dedup.
		s.log.Error("record payment failed", "operation", n.OperationID, "err", err)
		s.notifier.Notify(fmt.Sprintf("Платёж пользователя %d начислен, но не записан в журнал: %v", n.UserID, err))
	}

	s.sender.SendText(n.UserID, fmt.Sprintf("Оплата %d₽ получена! Начислено %d примерок.", n.Amount, credits))
	s.notifier.Notify(fmt.Sprintf("Новая оплата от пользователя %d. Сумма: %d₽", n.UserID, n.Amount))
	return nil
}

func (s *PaymentService) record(ctx context.Context, n payment.Notification, credits int) error {
	if n.OperationID == "" {
		return nil
	}
	err := s.payments.Record(ctx, &models.Payment{
		OperationID: n.OperationID,
		UserID:      n.UserID,
		Amount:      n.Amount,
		Credits:     credits,
	})
	if errors.Is(err, repository.ErrDuplicateOperation) {
		return nil
	}
	return err
}
