package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prn-tf/artshare/internal/config"
	"github.com/prn-tf/artshare/internal/domain"
	"github.com/prn-tf/artshare/internal/lock"
	"github.com/prn-tf/artshare/internal/pkg/saga"
	"github.com/prn-tf/artshare/internal/repository"
)

// Transfer kinds and outcomes reported to metrics.
const (
	transferGive     = "give"
	transferWithdraw = "withdraw"
	transferBuy      = "buy"

	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// PointsConfig holds the thresholds and rates of the points economy.
type PointsConfig struct {
	// MinWithdrawal is the balance a user needs before withdrawing.
	MinWithdrawal int64

	// CurrencyRate is the currency value of one point.
	CurrencyRate decimal.Decimal

	// PointsPerCurrencyUnit is how many points one currency unit buys.
	PointsPerCurrencyUnit int64

	// MinPurchase is the smallest accepted purchase amount.
	MinPurchase decimal.Decimal
}

// DefaultPointsConfig returns the stock economy: 1 point is worth 0.01,
// 1 currency unit buys 100 points.
func DefaultPointsConfig() PointsConfig {
	return PointsConfig{
		MinWithdrawal:         1000,
		CurrencyRate:          decimal.New(1, -2),
		PointsPerCurrencyUnit: 100,
		MinPurchase:           decimal.NewFromInt(1),
	}
}

// NewPointsConfig parses the points section of the configuration.
func NewPointsConfig(cfg config.PointsConfig) (PointsConfig, error) {
	rate, err := cfg.Rate()
	if err != nil {
		return PointsConfig{}, fmt.Errorf("invalid currency rate: %w", err)
	}
	minPurchase, err := cfg.MinPurchaseAmount()
	if err != nil {
		return PointsConfig{}, fmt.Errorf("invalid minimum purchase: %w", err)
	}
	return PointsConfig{
		MinWithdrawal:         cfg.MinWithdrawal,
		CurrencyRate:          rate,
		PointsPerCurrencyUnit: cfg.PointsPerCurrencyUnit,
		MinPurchase:           minPurchase,
	}, nil
}

// PointsService moves points between users, artworks and the outside world.
//
// Every operation checks its preconditions without locks, then takes the
// locks of every record it will write, re-reads those records and checks
// again, and finally applies its writes as a saga so a failed write undoes
// the earlier ones.
type PointsService struct {
	base
	cache  repository.Cache
	config PointsConfig
}

// NewPointsService creates a new PointsService. cache backs the balance view
// and may be nil.
func NewPointsService(d Deps, cache repository.Cache, cfg PointsConfig) *PointsService {
	return &PointsService{
		base:   newBase(d, "points"),
		cache:  cache,
		config: cfg,
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// GiveResult is the outcome of a donation.
type GiveResult struct {
	Donor   *domain.User
	Author  *domain.User
	Artwork *domain.Artwork
	Give    *domain.PointsTransaction
	Receive *domain.PointsTransaction
}

// BalanceView is the balance shown to a signed-in user. It is cached and
// refreshed after every points operation.
type BalanceView struct {
	UserID    string    `json:"user_id"`
	Points    int64     `json:"points"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// Donations
// =============================================================================

// GivePoints donates amount points from donorID to the author of artworkID.
// A user cannot donate to their own artwork nor twice to the same artwork.
func (s *PointsService) GivePoints(ctx context.Context, donorID, artworkID string, amount int64) (*GiveResult, error) {
	if amount <= 0 {
		s.metrics.RecordTransfer(transferGive, outcomeRejected)
		return nil, ErrInvalidAmount
	}

	artwork, err := s.artwork(ctx, artworkID)
	if err != nil {
		return nil, s.reject(transferGive, err)
	}
	donor, err := s.SyncUserPoints(ctx, donorID)
	if err != nil {
		return nil, s.reject(transferGive, err)
	}
	if err := checkDonation(donor, artwork, amount); err != nil {
		return nil, s.reject(transferGive, err)
	}

	release, err := s.lock(ctx,
		lock.Keys.User(donor.ID),
		lock.Keys.User(artwork.AuthorID),
		lock.Keys.Artwork(artwork.ID),
	)
	if err != nil {
		s.metrics.RecordTransfer(transferGive, outcomeFailed)
		return nil, err
	}
	defer release()

	if artwork, err = s.lockedArtwork(ctx, artwork.ID); err != nil {
		return nil, s.reject(transferGive, err)
	}
	if donor, err = s.lockedUser(ctx, donor.ID); err != nil {
		return nil, s.reject(transferGive, err)
	}
	if err := checkDonation(donor, artwork, amount); err != nil {
		return nil, s.reject(transferGive, err)
	}
	author, err := s.lockedUser(ctx, artwork.AuthorID)
	if err != nil {
		return nil, s.reject(transferGive, fmt.Errorf("artwork author: %w", err))
	}

	give := domain.NewGiveTransaction(donor.ID, artwork.ID, amount)
	receive := domain.NewReceiveTransaction(author.ID, artwork.ID, amount)

	debit := func() error { return donor.RemovePoints(amount) }
	undebit := func() { _ = donor.AddPoints(amount) }
	credit := func() error { return author.AddPoints(amount) }
	uncredit := func() { _ = author.RemovePoints(amount) }
	donate := func() error { return artwork.AddDonation(donor.ID, amount) }
	undonate := func() { artwork.RemoveDonation(donor.ID, amount) }

	err = saga.New("give_points", s.logger, s.metrics).
		Step("save_give_transaction", s.save(give), s.unsave(give)).
		Step("save_receive_transaction", s.save(receive), s.unsave(receive)).
		Step("debit_donor", s.mutate(donor, debit, undebit), s.restore(donor, undebit)).
		Step("credit_author", s.mutate(author, credit, uncredit), s.restore(author, uncredit)).
		Step("record_donation", s.mutate(artwork, donate, undonate), s.restore(artwork, undonate)).
		Run(ctx)
	if err != nil {
		s.metrics.RecordTransfer(transferGive, outcomeFailed)
		s.logger.Error().Err(err).
			Str("user_id", donor.ID).
			Str("artwork_id", artwork.ID).
			Int64("points", amount).
			Msg("donation failed")
		return nil, err
	}

	s.metrics.RecordTransfer(transferGive, outcomeOK)
	s.refreshBalance(ctx, donor)
	s.refreshBalance(ctx, author)

	s.logger.Info().
		Str("user_id", donor.ID).
		Str("author_id", author.ID).
		Str("artwork_id", artwork.ID).
		Int64("points", amount).
		Msg("points donated")

	return &GiveResult{Donor: donor, Author: author, Artwork: artwork, Give: give, Receive: receive}, nil
}

func checkDonation(donor *domain.User, artwork *domain.Artwork, amount int64) error {
	switch {
	case artwork.IsAuthor(donor.ID):
		return domain.ErrSelfDonation
	case artwork.HasDonated(donor.ID):
		return domain.ErrAlreadyDonated
	case amount > donor.Points:
		return fmt.Errorf("%w: balance %d, requested %d", domain.ErrInsufficientPoints, donor.Points, amount)
	}
	return nil
}

// HasDonated reports whether userID donated to artworkID.
func (s *PointsService) HasDonated(ctx context.Context, userID, artworkID string) (bool, error) {
	artwork, err := s.artwork(ctx, artworkID)
	if err != nil {
		return false, err
	}
	return artwork.HasDonated(userID), nil
}

// =============================================================================
// Withdrawals and purchases
// =============================================================================

// Withdraw requests a payout of points. The user needs at least the minimum
// withdrawal balance. The transaction stays pending until it is settled.
func (s *PointsService) Withdraw(ctx context.Context, userID string, points int64) (*domain.PointsTransaction, error) {
	if points <= 0 {
		s.metrics.RecordTransfer(transferWithdraw, outcomeRejected)
		return nil, ErrInvalidAmount
	}

	user, err := s.SyncUserPoints(ctx, userID)
	if err != nil {
		return nil, s.reject(transferWithdraw, err)
	}
	if err := s.checkWithdrawal(user, points); err != nil {
		return nil, s.reject(transferWithdraw, err)
	}

	release, err := s.lock(ctx, lock.Keys.User(user.ID))
	if err != nil {
		s.metrics.RecordTransfer(transferWithdraw, outcomeFailed)
		return nil, err
	}
	defer release()

	if user, err = s.lockedUser(ctx, user.ID); err != nil {
		return nil, s.reject(transferWithdraw, err)
	}
	if err := s.checkWithdrawal(user, points); err != nil {
		return nil, s.reject(transferWithdraw, err)
	}

	value := decimal.NewFromInt(points).Mul(s.config.CurrencyRate)
	tx := domain.NewWithdrawalTransaction(user.ID, points,
		fmt.Sprintf("Withdrawal of %d points (%s)", points, value.StringFixed(2)))

	debit := func() error { return user.RemovePoints(points) }
	undebit := func() { _ = user.AddPoints(points) }

	err = saga.New("withdraw", s.logger, s.metrics).
		Step("save_transaction", s.save(tx), s.unsave(tx)).
		Step("debit_user", s.mutate(user, debit, undebit), s.restore(user, undebit)).
		Run(ctx)
	if err != nil {
		s.metrics.RecordTransfer(transferWithdraw, outcomeFailed)
		s.logger.Error().Err(err).Str("user_id", user.ID).Int64("points", points).Msg("withdrawal failed")
		return nil, err
	}

	s.metrics.RecordTransfer(transferWithdraw, outcomeOK)
	s.refreshBalance(ctx, user)

	s.logger.Info().
		Str("user_id", user.ID).
		Int64("points", points).
		Str("value", value.StringFixed(2)).
		Msg("withdrawal requested")

	return tx, nil
}

func (s *PointsService) checkWithdrawal(user *domain.User, points int64) error {
	if !user.CanWithdraw(s.config.MinWithdrawal) {
		return fmt.Errorf("%w: minimum %d, balance %d", domain.ErrBelowWithdrawalMinimum, s.config.MinWithdrawal, user.Points)
	}
	if points > user.Points {
		return fmt.Errorf("%w: balance %d, requested %d", domain.ErrInsufficientPoints, user.Points, points)
	}
	return nil
}

// Buy converts a currency amount to points and credits them.
// It returns the purchase transaction.
func (s *PointsService) Buy(ctx context.Context, userID string, amount decimal.Decimal) (*domain.PointsTransaction, error) {
	if amount.LessThan(s.config.MinPurchase) {
		s.metrics.RecordTransfer(transferBuy, outcomeRejected)
		return nil, fmt.Errorf("%w: minimum %s", domain.ErrBelowPurchaseMinimum, s.config.MinPurchase.String())
	}
	points := s.PointsFor(amount)
	if points <= 0 {
		s.metrics.RecordTransfer(transferBuy, outcomeRejected)
		return nil, ErrInvalidAmount
	}

	user, err := s.SyncUserPoints(ctx, userID)
	if err != nil {
		return nil, s.reject(transferBuy, err)
	}

	release, err := s.lock(ctx, lock.Keys.User(user.ID))
	if err != nil {
		s.metrics.RecordTransfer(transferBuy, outcomeFailed)
		return nil, err
	}
	defer release()

	if user, err = s.lockedUser(ctx, user.ID); err != nil {
		return nil, s.reject(transferBuy, err)
	}

	tx := domain.NewPurchaseTransaction(user.ID, points,
		fmt.Sprintf("Purchase of %d points for %s", points, amount.StringFixed(2)))

	credit := func() error { return user.AddPoints(points) }
	uncredit := func() { _ = user.RemovePoints(points) }

	err = saga.New("buy", s.logger, s.metrics).
		Step("save_transaction", s.save(tx), s.unsave(tx)).
		Step("credit_user", s.mutate(user, credit, uncredit), s.restore(user, uncredit)).
		Run(ctx)
	if err != nil {
		s.metrics.RecordTransfer(transferBuy, outcomeFailed)
		s.logger.Error().Err(err).Str("user_id", user.ID).Int64("points", points).Msg("purchase failed")
		return nil, err
	}

	s.metrics.RecordTransfer(transferBuy, outcomeOK)
	s.refreshBalance(ctx, user)

	s.logger.Info().
		Str("user_id", user.ID).
		Int64("points", points).
		Str("amount", amount.StringFixed(2)).
		Msg("points purchased")

	return tx, nil
}

// PointsFor returns the whole number of points amount buys.
func (s *PointsService) PointsFor(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(s.config.PointsPerCurrencyUnit)).Floor().IntPart()
}

// =============================================================================
// Balances and history
// =============================================================================

// SyncUserPoints loads a user and makes sure its balance is initialized and
// non-negative, persisting the repair if one was needed. It is idempotent and
// is called before every balance check. It does not reconcile against the
// transaction log; see LedgerBalance for that.
func (s *PointsService) SyncUserPoints(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Points >= 0 {
		return user, nil
	}

	release, err := s.lock(ctx, lock.Keys.User(user.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	if user, err = s.lockedUser(ctx, user.ID); err != nil {
		return nil, err
	}
	if user.Points < 0 {
		s.logger.Warn().Str("user_id", user.ID).Int64("points", user.Points).Msg("resetting negative balance")
		user.EnsureAttributes()
		if _, err := s.gw.Save(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// Transactions returns the transactions of userID, newest first.
func (s *PointsService) Transactions(ctx context.Context, userID string) ([]*domain.PointsTransaction, error) {
	id := domain.NormalizeID(userID)
	txs, err := s.transactions.FindAll(ctx, func(t *domain.PointsTransaction) bool {
		return domain.SameID(t.UserID, id)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.After(txs[j].CreatedAt)
		}
		return domain.CompareIDs(txs[i].ID, txs[j].ID) > 0
	})
	return txs, nil
}

// Transaction returns one transaction of userID. A transaction of another
// user is reported as ErrAccessDenied.
func (s *PointsService) Transaction(ctx context.Context, userID, txID string) (*domain.PointsTransaction, error) {
	tx, found, err := s.transactions.FindByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", domain.ErrTransactionNotFound, txID)
	}
	if !domain.SameID(tx.UserID, userID) {
		return nil, domain.ErrAccessDenied
	}
	return tx, nil
}

// LedgerBalance sums the signed amounts of every transaction of userID that
// affects the balance. Comparing it with the stored balance audits the user.
func (s *PointsService) LedgerBalance(ctx context.Context, userID string) (int64, error) {
	txs, err := s.Transactions(ctx, userID)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, tx := range txs {
		if tx.AffectsBalance() {
			sum += tx.SignedAmount()
		}
	}
	return sum, nil
}

// Balance returns the cached balance view of userID, loading it from the
// user record on a miss.
func (s *PointsService) Balance(ctx context.Context, userID string) (*BalanceView, error) {
	id := domain.NormalizeID(userID)
	if s.cache != nil && id != "" {
		data, err := s.cache.Get(ctx, repository.CacheKeys.Balance(id))
		if err == nil {
			var view BalanceView
			if json.Unmarshal(data, &view) == nil {
				return &view, nil
			}
		} else if !errors.Is(err, repository.ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("user_id", id).Msg("balance view read failed")
		}
	}

	user, err := s.SyncUserPoints(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.refreshBalance(ctx, user), nil
}

// refreshBalance rewrites the cached balance view of user. Failures are logged.
func (s *PointsService) refreshBalance(ctx context.Context, user *domain.User) *BalanceView {
	view := &BalanceView{UserID: user.ID, Points: user.Points, UpdatedAt: time.Now().UTC()}
	if s.cache == nil {
		return view
	}
	data, err := json.Marshal(view)
	if err == nil {
		err = s.cache.Set(ctx, repository.CacheKeys.Balance(user.ID), data, 0)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("balance view refresh failed")
	}
	return view
}

// reject counts a refused operation and returns err.
func (s *PointsService) reject(kind string, err error) error {
	s.metrics.RecordTransfer(kind, outcomeRejected)
	return err
}
