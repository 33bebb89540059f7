package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/artshare/internal/config"
	"github.com/prn-tf/artshare/internal/domain"
	"github.com/prn-tf/artshare/internal/gateway"
	"github.com/prn-tf/artshare/internal/pkg/saga"
	"github.com/prn-tf/artshare/internal/repository"
)

func newPointsService(h *harness) *PointsService {
	return NewPointsService(h.deps, h.cache, DefaultPointsConfig())
}

func TestNewPointsConfig(t *testing.T) {
	cfg, err := NewPointsConfig(config.PointsConfig{
		MinWithdrawal:         500,
		CurrencyRate:          "0.02",
		PointsPerCurrencyUnit: 50,
		MinPurchase:           "5",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500), cfg.MinWithdrawal)
	assert.True(t, decimal.RequireFromString("0.02").Equal(cfg.CurrencyRate))
	assert.True(t, decimal.NewFromInt(5).Equal(cfg.MinPurchase))

	_, err = NewPointsConfig(config.PointsConfig{CurrencyRate: "abc", MinPurchase: "1", PointsPerCurrencyUnit: 1})
	assert.Error(t, err)
}

// =============================================================================
// GivePoints
// =============================================================================

func TestGivePoints_Success(t *testing.T) {
	h := newHarness(t)
	svc := newPointsService(h)
	ctx := context.Background()

	alice := h.user(t, "alice", 500)
	bob := h.user(t, "bob", 0)
	art := h.artwork(t, bob, "Sunset")

	result, err := svc.GivePoints(ctx, alice.ID, art.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(300), result.Donor.Points)
	assert.Equal(t, int64(200), result.Author.Points)

	assert.Equal(t, int64(300), h.reloadUser(t, alice.ID).Points)
	assert.Equal(t, int64(200), h.reloadUser(t, bob.ID).Points)

	stored := h.reloadArtwork(t, art.ID)
	assert.Equal(t, int64(200), stored.PointsReceived)
	assert.Equal(t, []string{alice.ID}, stored.Donors)

	donated, err := svc.HasDonated(ctx, alice.ID, art.ID)
	require.NoError(t, err)
	assert.True(t, donated)

	aliceTxs, err := svc.Transactions(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, aliceTxs, 1)
	assert.Equal(t, domain.TransactionGive, aliceTxs[0].Type)
	assert.Equal(t, int64(200), aliceTxs[0].Points)
	assert.Equal(t, art.ID, aliceTxs[0].ReferenceID)

	bobTxs, err := svc.Transactions(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, bobTxs, 1)
	assert.Equal(t, domain.TransactionReceive, bobTxs[0].Type)
	assert.Equal(t, int64(200), bobTxs[0].Points)

	ledger, err := svc.LedgerBalance(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), ledger)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.PointsTransfers.WithLabelValues("give", "ok")))
}

func TestGivePoints_Rejections(t *testing.T) {
	h := newHarness(t)
	svc := newPointsService(h)
	ctx := context.Background()

	alice := h.user(t, "alice", 500)
	bob := h.user(t, "bob", 100)
	art := h.artwork(t, bob, "Sunset")

	_, err := svc.GivePoints(ctx, bob.ID, art.ID, 10)
	assert.ErrorIs(t, err, domain.ErrSelfDonation)

	_, err = svc.GivePoints(ctx, alice.ID, art.ID, 501)
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)

	_, err = svc.GivePoints(ctx, alice.ID, art.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.GivePoints(ctx, alice.ID, "999", 10)
	assert.ErrorIs(t, err, domain.ErrArtworkNotFound)

	_, err = svc.GivePoints(ctx, "999", art.ID, 10)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = svc.GivePoints(ctx, alice.ID, art.ID, 100)
	require.NoError(t, err)

	_, err = svc.GivePoints(ctx, alice.ID, art.ID, 50)
	assert.ErrorIs(t, err, domain.ErrAlreadyDonated)

	// Rejected donations leave no trace.
	assert.Equal(t, int64(400), h.reloadUser(t, alice.ID).Points)
	assert.Equal(t, int64(200), h.reloadUser(t, bob.ID).Points)
	assert.Equal(t, 2, h.count(t, domain.TypeTransaction))
	assert.Equal(t, float64(6), testutil.ToFloat64(h.metrics.PointsTransfers.WithLabelValues("give", "rejected")))
}

func TestGivePoints_RollsBackWhenArtworkSaveFails(t *testing.T) {
	h := newHarness(t)
	svc := newPointsService(h)
	ctx := context.Background()

	alice := h.user(t, "alice", 500)
	bob := h.user(t, "bob", 0)
	art := h.artwork(t, bob, "Sunset")

	h.store.failSaves(domain.TypeArtwork, true)
	_, err := svc.GivePoints(ctx, alice.ID, art.ID, 200)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskFull)
	assert.ErrorIs(t, err, gateway.ErrPersistence)

	var sagaErr *saga.Error
	require.True(t, errors.As(err, &sagaErr))
	assert.Equal(t, "record_donation", sagaErr.Step)

	assert.Equal(t, int64(500), h.reloadUser(t, alice.ID).Points)
	assert.Equal(t, int64(0), h.reloadUser(t, bob.ID).Points)
	assert.Zero(t, h.count(t, domain.TypeTransaction))
	assert.Equal(t, float64(4), testutil.ToFloat64(h.metrics.SagaCompensations.WithLabelValues("give_points", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.PointsTransfers.WithLabelValues("give", "failed")))

	h.store.failSaves(domain.TypeArtwork, false)
	assert.Empty(t, h.reloadArtwork(t, art.ID).Donors)

	_, err = svc.GivePoints(ctx, alice.ID, art.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(300), h.reloadUser(t, alice.ID).Points)
	assert.Equal(t, int64(200), h.reloadUser(t, bob.ID).Points)
}

func TestGivePoints_RollsBackWhenTransactionSaveFails(t *testing.T) {
	h := newHarness(t)
	svc := newPointsService(h)
	ctx := context.Background()

	alice := h.user(t, "alice", 500)
	bob := h.user(t, "bob", 0)
	art := h.artwork(t, bob, "Sunset")

	h.store.failSaves(domain.TypeTransaction, true)
	_, err := svc.GivePoints(ctx, alice.ID, art.ID, 200)
	require.Error(t, err)

	var sagaErr *saga.Error
	require.True(t, errors.As(err, &sagaErr))
	assert.Equal(t, "save_give_transaction", sagaErr.Step)
	assert.Equal(t, int64(500), h.reloadUser(t, alice.ID).Points)
	assert.Zero(t, h.count(t, domain.TypeTransaction))
}

func TestGivePoints_ConcurrentDonorsToSameArtwork(t *testing.T) {
	h := newHarness(t)
	svc := newPointsService(h)
	ctx := context.Background()

	author := h.user(t, "author", 0)
	art := h.artwork(t, author, "Mural")

	const donors = 8
	ids := make([]string, donors)
	for i := range ids {
		ids[i] = h.user(t, "donor"+string(rune('a'+i)), 100).ID
	}

	var wg sync.WaitGroup
	errs := make([]error, donors)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = svc.GivePoints(ctx, id, art.ID, 10)
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(10*donors), h.reloadUser(t, author.ID).Points)
	stored := h.reloadArtwork(t, art.ID)
	assert.Equal(t, int64(10*donors), stored.PointsReceived)
	assert.Len(t, stored.Donors, donors)
}

// =============================================================================
// Withdraw / Buy
// =============================================================================

func TestGivePoints_SeesBalanceChangedByAnotherProcess(t *testing.T) {
	h := newHarness(t)
	other := h.peer(t)
	svc := newPointsService(h)
	ctx := context.Background()

	alice := h.user(t, "alice", 500)
	bob := h.user(t, "bob", 0)
	art := h.artwork(t, bob, "Sunset")

	// This process caches alice at 500; the other one credits her.
	assert.Equal(t, int64(500), h.reloadUser(t, alice.ID).Points)
	_, err := newPointsService(other).Buy(ctx, alice.ID, decimal.NewFromInt(1))
	require.NoError(t, err)

	res, err := svc.GivePoints(ctx, alice.ID, art.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(400), res.Donor.Points)
	assert.Equal(t, int64(400), h.stored(t, alice.ID).Points)
	assert.Equal(t, int64(400), h.reloadUser(t, alice.ID).Points)
	assert.Equal(t, int64(200), h.stored(t, bob.ID).Points)
}

func TestWithdraw(t *testing.T) {
	h := newHarness(t)
	svc := newPointsService(h)
	ctx := context.Background()

	poor := h.user(t, "poor", 999)
	rich := h.user(t, "rich", 1500)

	_, err := svc.Withdraw(ctx, poor.ID, 500)
	assert.ErrorIs(t, err, domain.ErrBelowWithdrawalMinimum)

	_, err = svc.Withdraw(ctx, rich.ID, 2000)
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)

	_, err = svc.Withdraw(ctx, rich.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	tx, err := svc.Withdraw(ctx, rich.ID, 1200)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionWithdraw, tx.Type)
	assert.Equal(t, domain.TransactionPending, tx.Status)
	assert.Equal(t, "Withdrawal of 1200 points (12.00)", tx.Description)
	assert.Equal(t, int64(300), h.reloadUser(t, rich.ID).Points)

	ledger, err := svc.LedgerBalance(ctx, rich.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-1200), ledger)
}

func TestWithdraw_RollsBackWhenUserSaveFails(t *testing.T) {
	h := newHarness(t)
	svc := newPointsService(h)
	ctx := context.Background()

	rich := h.user(t, "rich", 1500)
	h.store.failSaves(domain.TypeUser, true)

	_, err := svc.Withdraw(ctx, rich.ID, 1200)
	require.Error(t, err)
	h.store.failSaves(domain.TypeUser, false)

	assert.Equal(t, int64(1500), h.reloadUser(t, rich.ID).Points)
	assert.Zero(t, h.count(t, domain.TypeTransaction))
}

func TestBuy(t *testing.T) {
	h := newHarness(t)
	svc := newPointsService(h)
	ctx := context.Background()

	carol := h.user(t, "carol", 10)

	_, err := svc.Buy(ctx, carol.ID, decimal.RequireFromString("0.50"))
	assert.ErrorIs(t, err, domain.ErrBelowPurchaseMinimum)

	tx, err := svc.Buy(ctx, carol.ID, decimal.RequireFromString("2.509"))
	require.NoError(t, err)
	assert.Equal(t, int64(250), tx.Points)
	assert.Equal(t, domain.TransactionPurchase, tx.Type)
	assert.Equal(t, domain.TransactionCompleted, tx.Status)
	assert.Equal(t, "Purchase of 250 points for 2.51", tx.Description)
	assert.Equal(t, int64(260), h.reloadUser(t, carol.ID).Points)

	data, err := h.cache.Get(ctx, repository.CacheKeys.Balance(carol.ID))
	require.NoError(t, err)
	var view BalanceView
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, int64(260), view.Points)

	got, err := svc.Balance(ctx, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(260), got.Points)
}

func TestPointsFor(t *testing.T) {
	svc := newPointsService(newHarness(t))

	assert.Equal(t, int64(100), svc.PointsFor(decimal.NewFromInt(1)))
	assert.Equal(t, int64(199), svc.PointsFor(decimal.RequireFromString("1.999")))
	assert.Equal(t, int64(0), svc.PointsFor(decimal.RequireFromString("0.001")))
}

// =============================================================================
// History
// =============================================================================

func TestTransactions_NewestFirstAndOwnership(t *testing.T) {
	h := newHarness(t)
	svc := newPointsService(h)
	ctx := context.Background()

	carol := h.user(t, "carol", 0)
	dave := h.user(t, "dave", 0)

	first, err := svc.Buy(ctx, carol.ID, decimal.NewFromInt(1))
	require.NoError(t, err)
	second, err := svc.Buy(ctx, carol.ID, decimal.NewFromInt(2))
	require.NoError(t, err)

	txs, err := svc.Transactions(ctx, carol.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, second.ID, txs[0].ID)
	assert.Equal(t, first.ID, txs[1].ID)

	got, err := svc.Transaction(ctx, carol.ID, "points_transaction@"+first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = svc.Transaction(ctx, dave.ID, first.ID)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	_, err = svc.Transaction(ctx, carol.ID, "404")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	ledger, err := svc.LedgerBalance(ctx, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, h.reloadUser(t, carol.ID).Points, ledger)
}

func TestSyncUserPoints(t *testing.T) {
	h := newHarness(t)
	svc := newPointsService(h)
	ctx := context.Background()

	carol := h.user(t, "carol", 42)
	got, err := svc.SyncUserPoints(ctx, "user@"+carol.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Points)

	_, err = svc.SyncUserPoints(ctx, "404")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}
