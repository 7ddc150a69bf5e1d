package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPaidTriesDefaultsToZeroOnFailure(t *testing.T) {
	repo := newMemRepo()
	repo.failAll = true
	notifier := &stubNotifier{}
	svc := NewEntitlementService(repo, notifier, testLogger())

	require.Equal(t, 0, svc.PaidTries(context.Background(), 100))
	require.NotEmpty(t, notifier.all(), "read failure must be surfaced to the operator")
}

func TestFreeUsedDefaultsToUsedOnFailure(t *testing.T) {
	repo := newMemRepo()
	repo.failAll = true
	svc := NewEntitlementService(repo, &stubNotifier{}, testLogger())

	// A backend outage must not hand out free try-ons.
	require.True(t, svc.FreeUsed(context.Background(), 100))
}

func TestGrantThenRead(t *testing.T) {
	repo := newMemRepo()
	svc := NewEntitlementService(repo, &stubNotifier{}, testLogger())
	ctx := context.Background()

	repo.paidTries[100] = 2
	require.NoError(t, svc.Grant(ctx, 100, 3))
	require.Equal(t, 5, svc.PaidTries(ctx, 100))
}

func TestConsumePaidTryStopsAtZero(t *testing.T) {
	repo := newMemRepo()
	svc := NewEntitlementService(repo, &stubNotifier{}, testLogger())
	ctx := context.Background()

	repo.paidTries[100] = 1
	require.True(t, svc.ConsumePaidTry(ctx, 100))
	require.False(t, svc.ConsumePaidTry(ctx, 100))
	require.Equal(t, 0, repo.paidTries[100])
}

func TestMarkFreeUsedFailureDoesNotAbort(t *testing.T) {
	repo := newMemRepo()
	repo.failAll = true
	notifier := &stubNotifier{}
	svc := NewEntitlementService(repo, notifier, testLogger())

	svc.MarkFreeUsed(context.Background(), 100)
	require.NotEmpty(t, notifier.all())
}
