package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/everwear/tryonbot/internal/models"
	"github.com/everwear/tryonbot/internal/payment"
	"github.com/everwear/tryonbot/internal/storage"
)

const allowlistedUser int64 = 973853935

type tryOnFixture struct {
	svc      *TryOnService
	repo     *memRepo
	media    *memMedia
	composer *stubComposer
	sender   *stubSender
	notifier *stubNotifier
}

func newTryOnFixture(t *testing.T) *tryOnFixture {
	t.Helper()
	repo := newMemRepo()
	media := newMemMedia()
	composer := &stubComposer{}
	sender := &stubSender{}
	notifier := &stubNotifier{}
	entitlements := NewEntitlementService(repo, notifier, testLogger())
	links := payment.NewLinkIssuer("wallet", "Оплата примерки", "https://t.me/tryonbot")
	allowlist := allowlistSet{allowlistedUser: {}}
	svc := NewTryOnService(entitlements, media, composer, sender, notifier, links, allowlist, 30, time.Second, testLogger())
	return &tryOnFixture{
		svc:      svc,
		repo:     repo,
		media:    media,
		composer: composer,
		sender:   sender,
		notifier: notifier,
	}
}

func (f *tryOnFixture) addCatalogModel(t *testing.T, category, name string) {
	t.Helper()
	err := f.media.Put(context.Background(), storage.ModelKey(category, name), []byte("garment"), "image/jpeg")
	require.NoError(t, err)
}

func waitForIdle(t *testing.T, svc *TryOnService, userID int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return svc.State(userID) == StateIdle
	}, 2*time.Second, 10*time.Millisecond, "composition must settle back to IDLE")
}

func TestFirstPhotoUsesFreeTry(t *testing.T) {
	f := newTryOnFixture(t)
	ctx := context.Background()

	outcome, err := f.svc.AcceptPhoto(ctx, 100, []byte("selfie"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, PhotoAccepted, outcome)

	require.True(t, f.repo.freeUsed[100], "free try is consumed on photo acceptance")
	require.Equal(t, 0, f.repo.paidTries[100])
	require.Equal(t, StateAwaitingModelChoice, f.svc.State(100))
	require.True(t, f.media.has("photos/100/photo_1"))
}

func TestSecondPhotoWithoutCreditGetsPaymentLink(t *testing.T) {
	f := newTryOnFixture(t)
	ctx := context.Background()
	f.repo.freeUsed[100] = true

	outcome, err := f.svc.AcceptPhoto(ctx, 100, []byte("selfie"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, PhotoPaymentRequired, outcome)
	require.Equal(t, StateIdle, f.svc.State(100))

	texts := f.sender.sentTexts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "label=100")
	require.Contains(t, texts[0], "default-sum=30")
}

func TestAllowlistedUserSkipsEntitlementStore(t *testing.T) {
	f := newTryOnFixture(t)
	ctx := context.Background()
	f.addCatalogModel(t, "tops", "shirt_red")

	outcome, err := f.svc.AcceptPhoto(ctx, allowlistedUser, []byte("selfie"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, PhotoAccepted, outcome)
	require.Equal(t, StateAwaitingModelChoice, f.svc.State(allowlistedUser))

	modelOutcome, err := f.svc.ChooseModel(ctx, allowlistedUser, "tops", "shirt_red")
	require.NoError(t, err)
	require.Equal(t, ModelDispatched, modelOutcome)
	waitForIdle(t, f.svc, allowlistedUser)

	require.Zero(t, f.repo.accessCount(), "allowlisted users never touch the entitlement store")
}

func TestPaidTryConsumedAtDispatch(t *testing.T) {
	f := newTryOnFixture(t)
	ctx := context.Background()
	f.repo.freeUsed[100] = true
	f.repo.paidTries[100] = 3
	f.addCatalogModel(t, "tops", "shirt_red")

	outcome, err := f.svc.AcceptPhoto(ctx, 100, []byte("selfie"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, PhotoAccepted, outcome)
	require.Equal(t, 3, f.repo.paidTries[100], "no decrement before dispatch")

	modelOutcome, err := f.svc.ChooseModel(ctx, 100, "tops", "shirt_red")
	require.NoError(t, err)
	require.Equal(t, ModelDispatched, modelOutcome)
	require.Equal(t, 2, f.repo.paidTries[100], "credit consumed at dispatch")

	require.True(t, f.media.has("photos/100/photo_1"))
	require.True(t, f.media.has("photos/100/photo_2"))

	waitForIdle(t, f.svc, 100)
	photos := f.sender.sentPhotos()
	require.Len(t, photos, 1)
	require.EqualValues(t, 100, photos[0].chatID)
	require.Equal(t, 2, f.repo.paidTries[100], "successful composition is not refunded")
}

func TestCompositionFailureRefundsPaidCredit(t *testing.T) {
	f := newTryOnFixture(t)
	ctx := context.Background()
	f.repo.freeUsed[100] = true
	f.repo.paidTries[100] = 1
	f.composer.err = errors.New("upstream exploded")
	f.addCatalogModel(t, "tops", "shirt_red")

	_, err := f.svc.AcceptPhoto(ctx, 100, []byte("selfie"), "image/jpeg")
	require.NoError(t, err)
	modelOutcome, err := f.svc.ChooseModel(ctx, 100, "tops", "shirt_red")
	require.NoError(t, err)
	require.Equal(t, ModelDispatched, modelOutcome)

	waitForIdle(t, f.svc, 100)
	require.Eventually(t, func() bool {
		f.repo.mu.Lock()
		defer f.repo.mu.Unlock()
		return f.repo.paidTries[100] == 1
	}, 2*time.Second, 10*time.Millisecond, "paid credit must be refunded")
	require.Empty(t, f.sender.sentPhotos())
	require.NotEmpty(t, f.notifier.all())
}

func TestCompositionFailureDoesNotRefundFreeTry(t *testing.T) {
	f := newTryOnFixture(t)
	ctx := context.Background()
	f.composer.err = errors.New("upstream exploded")
	f.addCatalogModel(t, "tops", "shirt_red")

	_, err := f.svc.AcceptPhoto(ctx, 100, []byte("selfie"), "image/jpeg")
	require.NoError(t, err)
	_, err = f.svc.ChooseModel(ctx, 100, "tops", "shirt_red")
	require.NoError(t, err)

	waitForIdle(t, f.svc, 100)
	require.True(t, f.repo.freeUsed[100], "free try stays consumed")
	require.Equal(t, 0, f.repo.paidTries[100])
}

func TestModelChoiceWhileIdleIsRejected(t *testing.T) {
	f := newTryOnFixture(t)

	outcome, err := f.svc.ChooseModel(context.Background(), 100, "tops", "shirt_red")
	require.NoError(t, err)
	require.Equal(t, ModelNoPhoto, outcome)

	texts := f.sender.sentTexts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "Сначала отправьте фото")
}

func TestPhotoWhileComposingIsRejected(t *testing.T) {
	f := newTryOnFixture(t)
	f.svc.sessions.Set(100, Session{State: StateComposing, Entitlement: models.EntitlementFree})

	outcome, err := f.svc.AcceptPhoto(context.Background(), 100, []byte("selfie"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, PhotoBusy, outcome)
	require.False(t, f.media.has("photos/100/photo_1"))
}

func TestReuploadReplacesPhotoWithoutCharge(t *testing.T) {
	f := newTryOnFixture(t)
	ctx := context.Background()
	f.repo.freeUsed[100] = true
	f.repo.paidTries[100] = 3

	_, err := f.svc.AcceptPhoto(ctx, 100, []byte("first"), "image/jpeg")
	require.NoError(t, err)

	outcome, err := f.svc.AcceptPhoto(ctx, 100, []byte("second"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, PhotoReplaced, outcome)
	require.Equal(t, StateAwaitingModelChoice, f.svc.State(100))
	require.Equal(t, 3, f.repo.paidTries[100], "re-upload is free")

	data, err := f.media.Get(ctx, "photos/100/photo_1")
	require.NoError(t, err)
	require.Equal(t, []byte("second"), data)
}

func TestUnknownCatalogModelIsHint(t *testing.T) {
	f := newTryOnFixture(t)
	ctx := context.Background()

	_, err := f.svc.AcceptPhoto(ctx, 100, []byte("selfie"), "image/jpeg")
	require.NoError(t, err)

	outcome, err := f.svc.ChooseModel(ctx, 100, "tops", "missing")
	require.NoError(t, err)
	require.Equal(t, ModelUnknown, outcome)
	require.Equal(t, StateAwaitingModelChoice, f.svc.State(100), "state unchanged on bad choice")
}

func TestFailedPhotoStoreLeavesStateUnchanged(t *testing.T) {
	f := newTryOnFixture(t)
	f.media.failPut = true

	_, err := f.svc.AcceptPhoto(context.Background(), 100, []byte("selfie"), "image/jpeg")
	require.Error(t, err)
	require.Equal(t, StateIdle, f.svc.State(100))
}
