package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/everwear/tryonbot/internal/compositor"
	"github.com/everwear/tryonbot/internal/models"
	"github.com/everwear/tryonbot/internal/payment"
	"github.com/everwear/tryonbot/internal/storage"
)

// MediaStore is the slice of the object store the controller needs.
type MediaStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	URL(key string) string
}

// Composer runs the try-on compositing API.
type Composer interface {
	Compose(ctx context.Context, personURL, garmentURL string) (*compositor.Result, error)
	Download(ctx context.Context, result *compositor.Result) error
}

// Allowlist answers whether a user is exempt from entitlement checks.
type Allowlist interface {
	Allowlisted(userID int64) bool
}

type PhotoOutcome int

const (
	PhotoAccepted PhotoOutcome = iota
	PhotoReplaced
	PhotoPaymentRequired
	PhotoBusy
)

type ModelOutcome int

const (
	ModelDispatched ModelOutcome = iota
	ModelNoPhoto
	ModelUnknown
	ModelPaymentRequired
	ModelBusy
)

// TryOnService is the per-user conversational state machine: it admits
// photos against the entitlement order (allowlist, free try, paid
// credits), collects the model choice and dispatches composition.
//
// Allowlisted users never touch the entitlement store. The free try is
// consumed when the photo is accepted and is not refunded; a paid credit
// is consumed at dispatch and refunded on composition failure or timeout.
type TryOnService struct {
	entitlements   *EntitlementService
	media          MediaStore
	composer       Composer
	sender         Sender
	notifier       Notifier
	links          *payment.LinkIssuer
	allowlist      Allowlist
	sessions       *SessionManager
	unitPrice      int
	composeTimeout time.Duration
	log            *slog.Logger
}

func NewTryOnService(entitlements *EntitlementService, media MediaStore, composer Composer, sender Sender, notifier Notifier, links *payment.LinkIssuer, allowlist Allowlist, unitPrice int, composeTimeout time.Duration, log *slog.Logger) *TryOnService {
	if composeTimeout <= 0 {
		composeTimeout = 3 * time.Minute
	}
	return &TryOnService{
		entitlements:   entitlements,
		media:          media,
		composer:       composer,
		sender:         sender,
		notifier:       notifier,
		links:          links,
		allowlist:      allowlist,
		sessions:       NewSessionManager(),
		unitPrice:      unitPrice,
		composeTimeout: composeTimeout,
		log:            log,
	}
}

// State exposes the workflow position for routing and diagnostics.
func (s *TryOnService) State(userID int64) SessionState {
	return s.sessions.Get(userID).State
}

// Restart drops the session back to IDLE without touching entitlements.
func (s *TryOnService) Restart(userID int64) {
	s.sessions.Reset(userID)
}

// AcceptPhoto handles an inbound user photo. While a choice is pending the
// photo replaces the previous one free of charge; otherwise admission runs
// the entitlement order and a denial answers with the payment link.
func (s *TryOnService) AcceptPhoto(ctx context.Context, userID int64, data []byte, contentType string) (PhotoOutcome, error) {
	sess := s.sessions.Get(userID)
	switch sess.State {
	case StateComposing:
		s.sender.SendText(userID, "Подождите, текущая примерка ещё обрабатывается.")
		return PhotoBusy, nil
	case StateAwaitingModelChoice:
		if err := s.media.Put(ctx, storage.PhotoKey(userID, models.SlotUserPhoto), data, contentType); err != nil {
			return 0, fmt.Errorf("replace user photo: %w", err)
		}
		return PhotoReplaced, nil
	}

	ent := s.admit(ctx, userID)
	if ent == models.EntitlementNone {
		s.sender.SendText(userID, s.paymentPrompt(userID))
		return PhotoPaymentRequired, nil
	}

	if err := s.media.Put(ctx, storage.PhotoKey(userID, models.SlotUserPhoto), data, contentType); err != nil {
		return 0, fmt.Errorf("store user photo: %w", err)
	}
	if ent == models.EntitlementFree {
		s.entitlements.MarkFreeUsed(ctx, userID)
	}
	s.sessions.Set(userID, Session{State: StateAwaitingModelChoice, Entitlement: ent})
	return PhotoAccepted, nil
}

// ChooseModel handles the picker callback: fetches the garment photo,
// stores it as the second slot, charges a paid credit at dispatch time and
// starts composition.
func (s *TryOnService) ChooseModel(ctx context.Context, userID int64, category, name string) (ModelOutcome, error) {
	sess := s.sessions.Get(userID)
	switch sess.State {
	case StateIdle:
		s.sender.SendText(userID, "Сначала отправьте фото.")
		return ModelNoPhoto, nil
	case StateComposing:
		s.sender.SendText(userID, "Подождите, текущая примерка ещё обрабатывается.")
		return ModelBusy, nil
	}

	garment, err := s.media.Get(ctx, storage.ModelKey(category, name))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.sender.SendText(userID, "Эта модель больше недоступна, выберите другую.")
			return ModelUnknown, nil
		}
		return 0, fmt.Errorf("fetch catalog model: %w", err)
	}
	if err := s.media.Put(ctx, storage.PhotoKey(userID, models.SlotModelPhoto), garment, "image/jpeg"); err != nil {
		return 0, fmt.Errorf("store model photo: %w", err)
	}

	if sess.Entitlement == models.EntitlementPaid {
		if !s.entitlements.ConsumePaidTry(ctx, userID) {
			s.sender.SendText(userID, s.paymentPrompt(userID))
			return ModelPaymentRequired, nil
		}
	}

	if !s.sessions.BeginCompose(userID) {
		if sess.Entitlement == models.EntitlementPaid {
			s.entitlements.Refund(ctx, userID)
		}
		s.sender.SendText(userID, "Подождите, текущая примерка ещё обрабатывается.")
		return ModelBusy, nil
	}

	s.sender.SendText(userID, "Создаю образ, это может занять пару минут...")
	go s.compose(userID, sess.Entitlement)
	return ModelDispatched, nil
}

func (s *TryOnService) compose(userID int64, ent models.Entitlement) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("compose panic", "user", userID, "panic", r)
			s.notifier.Notify(fmt.Sprintf("Паника при примерке пользователя %d: %v", userID, r))
			s.sessions.Reset(userID)
			s.sender.SendText(userID, "Что-то пошло не так. Попробуйте ещё раз.")
		}
	}()
	defer s.sessions.Reset(userID)

	ctx, cancel := context.WithTimeout(context.Background(), s.composeTimeout)
	defer cancel()

	personURL := s.media.URL(storage.PhotoKey(userID, models.SlotUserPhoto))
	garmentURL := s.media.URL(storage.PhotoKey(userID, models.SlotModelPhoto))

	result, err := s.composer.Compose(ctx, personURL, garmentURL)
	if err != nil {
		s.failCompose(userID, ent, err)
		return
	}
	if err := s.composer.Download(ctx, result); err != nil {
		s.failCompose(userID, ent, err)
		return
	}

	if err := s.media.Put(ctx, storage.PhotoKey(userID, models.SlotResult), result.Bytes, result.Mime); err != nil {
		// The user still gets the image; only the stored copy is lost.
		s.log.Error("store result failed", "user", userID, "err", err)
	}

	s.sender.SendPhoto(userID, result.Bytes, "Готово! Ваша примерка.")
}

func (s *TryOnService) failCompose(userID int64, ent models.Entitlement, cause error) {
	s.log.Error("composition failed", "user", userID, "err", cause)
	s.notifier.Notify(fmt.Sprintf("Ошибка примерки пользователя %d: %v", userID, cause))

	if ent == models.EntitlementPaid {
		refundCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.entitlements.Refund(refundCtx, userID)
	}

	text := "Не удалось создать образ, попробуйте позже."
	if errors.Is(cause, context.DeadlineExceeded) {
		text = "Примерка заняла слишком много времени. Попробуйте ещё раз."
	}
	if ent == models.EntitlementPaid {
		text += " Примерка возвращена на баланс."
	}
	s.sender.SendText(userID, text)
}

// admit runs the entitlement check order: allowlist, then the free try,
// then paid credits. Allowlisted users skip the store entirely.
func (s *TryOnService) admit(ctx context.Context, userID int64) models.Entitlement {
	if s.allowlist.Allowlisted(userID) {
		return models.EntitlementAllowlist
	}
	if !s.entitlements.FreeUsed(ctx, userID) {
		return models.EntitlementFree
	}
	if s.entitlements.PaidTries(ctx, userID) > 0 {
		return models.EntitlementPaid
	}
	return models.EntitlementNone
}

func (s *TryOnService) paymentPrompt(userID int64) string {
	return fmt.Sprintf("Бесплатная примерка уже использована. Стоимость одной примерки — %d₽. Оплатить: %s", s.unitPrice, s.links.Link(userID, s.unitPrice))
}

// PaymentLink builds the hosted payment URL for one try-on.
func (s *TryOnService) PaymentLink(userID int64) string {
	return s.links.Link(userID, s.unitPrice)
}
