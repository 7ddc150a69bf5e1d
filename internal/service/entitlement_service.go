package service

import (
	"context"
	"fmt"
	"log/slog"
)

// Notifier is the out-of-band operator channel.
type Notifier interface {
	Notify(text string)
}

// EntitlementRepo is the row-level contract over the users table.
type EntitlementRepo interface {
	PaidTries(ctx context.Context, userID int64) (int, error)
	FreeUsed(ctx context.Context, userID int64) (bool, error)
	GrantPaidTries(ctx context.Context, userID int64, n int) error
	ConsumePaidTry(ctx context.Context, userID int64) (bool, error)
	MarkFreeUsed(ctx context.Context, userID int64) error
}

// EntitlementService wraps the repository with the failure policy: reads
// degrade to "credits exhausted" so a backend outage never hands out
// unpaid try-ons, and every swallowed failure is surfaced to the operator.
type EntitlementService struct {
	repo     EntitlementRepo
	notifier Notifier
	log      *slog.Logger
}

func NewEntitlementService(repo EntitlementRepo, notifier Notifier, log *slog.Logger) *EntitlementService {
	return &EntitlementService{repo: repo, notifier: notifier, log: log}
}

// PaidTries returns the remaining paid credits, 0 on read failure.
func (s *EntitlementService) PaidTries(ctx context.Context, userID int64) int {
	tries, err := s.repo.PaidTries(ctx, userID)
	if err != nil {
		s.log.Error("paid tries read failed", "user", userID, "err", err)
		s.notifier.Notify(fmt.Sprintf("Ошибка чтения баланса пользователя %d: %v", userID, err))
		return 0
	}
	return tries
}

// FreeUsed reports whether the free try has been consumed; a read failure
// counts as consumed.
func (s *EntitlementService) FreeUsed(ctx context.Context, userID int64) bool {
	used, err := s.repo.FreeUsed(ctx, userID)
	if err != nil {
		s.log.Error("free used read failed", "user", userID, "err", err)
		s.notifier.Notify(fmt.Sprintf("Ошибка чтения статуса бесплатной примерки пользователя %d: %v", userID, err))
		return true
	}
	return used
}

// MarkFreeUsed records free-try consumption. A write failure is reported
// to the operator but does not abort the user flow.
func (s *EntitlementService) MarkFreeUsed(ctx context.Context, userID int64) {
	if err := s.repo.MarkFreeUsed(ctx, userID); err != nil {
		s.log.Error("mark free used failed", "user", userID, "err", err)
		s.notifier.Notify(fmt.Sprintf("Не удалось отметить бесплатную примерку пользователя %d: %v", userID, err))
	}
}

// ConsumePaidTry decrements one credit at dispatch time and reports
// whether one was available. Failures count as "no credit".
func (s *EntitlementService) ConsumePaidTry(ctx context.Context, userID int64) bool {
	ok, err := s.repo.ConsumePaidTry(ctx, userID)
	if err != nil {
		s.log.Error("consume paid try failed", "user", userID, "err", err)
		s.notifier.Notify(fmt.Sprintf("Не удалось списать примерку пользователя %d: %v", userID, err))
		return false
	}
	return ok
}

// Grant adds n credits, creating the row if absent.
func (s *EntitlementService) Grant(ctx context.Context, userID int64, n int) error {
	if err := s.repo.GrantPaidTries(ctx, userID, n); err != nil {
		return fmt.Errorf("grant %d tries to %d: %w", n, userID, err)
	}
	return nil
}

// Refund returns one consumed paid credit after a failed composition.
func (s *EntitlementService) Refund(ctx context.Context, userID int64) {
	if err := s.repo.GrantPaidTries(ctx, userID, 1); err != nil {
		s.log.Error("refund failed", "user", userID, "err", err)
		s.notifier.Notify(fmt.Sprintf("Не удалось вернуть примерку пользователю %d: %v", userID, err))
	}
}
