package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/artshare/internal/domain"
	"github.com/prn-tf/artshare/internal/gateway"
	"github.com/prn-tf/artshare/internal/lock"
	"github.com/prn-tf/artshare/internal/metrics"
)

// Deps are the collaborators shared by every service.
type Deps struct {
	Gateway     *gateway.Gateway
	Locker      lock.Locker
	LockOptions lock.Options
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// base holds the typed gateway views and the locking helpers.
type base struct {
	gw           *gateway.Gateway
	users        *gateway.Repository[*domain.User]
	artworks     *gateway.Repository[*domain.Artwork]
	comments     *gateway.Repository[*domain.Comment]
	messages     *gateway.Repository[*domain.Message]
	transactions *gateway.Repository[*domain.PointsTransaction]

	locker   lock.Locker
	lockOpts lock.Options
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func newBase(d Deps, name string) base {
	locker := d.Locker
	if locker == nil {
		locker = lock.NewNoOpLocker()
	}
	return base{
		gw:           d.Gateway,
		users:        gateway.For[*domain.User](d.Gateway),
		artworks:     gateway.For[*domain.Artwork](d.Gateway),
		comments:     gateway.For[*domain.Comment](d.Gateway),
		messages:     gateway.For[*domain.Message](d.Gateway),
		transactions: gateway.For[*domain.PointsTransaction](d.Gateway),
		locker:       locker,
		lockOpts:     d.LockOptions,
		metrics:      d.Metrics,
		logger:       d.Logger.With().Str("service", name).Logger(),
	}
}

// lock takes the given keys; the returned func releases them.
func (b *base) lock(ctx context.Context, keys ...string) (func(), error) {
	return lock.AcquireAll(ctx, b.locker, b.lockOpts, keys...)
}

func (b *base) user(ctx context.Context, id string) (*domain.User, error) {
	u, found, err := b.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", domain.ErrUserNotFound, id)
	}
	return u, nil
}

func (b *base) artwork(ctx context.Context, id string) (*domain.Artwork, error) {
	a, found, err := b.artworks.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", domain.ErrArtworkNotFound, id)
	}
	return a, nil
}

// lockedUser re-reads a user from the store. Callers hold its lock, so the
// result is current across every process sharing the store.
func (b *base) lockedUser(ctx context.Context, id string) (*domain.User, error) {
	u, found, err := b.users.Refresh(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", domain.ErrUserNotFound, id)
	}
	return u, nil
}

// lockedArtwork re-reads an artwork from the store. Callers hold its lock.
func (b *base) lockedArtwork(ctx context.Context, id string) (*domain.Artwork, error) {
	a, found, err := b.artworks.Refresh(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", domain.ErrArtworkNotFound, id)
	}
	return a, nil
}

func (b *base) comment(ctx context.Context, id string) (*domain.Comment, error) {
	c, found, err := b.comments.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", domain.ErrCommentNotFound, id)
	}
	return c, nil
}

// danglingArtworks returns the artwork ids of user that resolve to nothing.
func (b *base) danglingArtworks(ctx context.Context, user *domain.User) ([]string, error) {
	var dangling []string
	for _, id := range user.Artworks {
		_, found, err := b.artworks.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			dangling = append(dangling, id)
		}
	}
	return dangling, nil
}

// danglingComments returns the comment ids of artwork that resolve to nothing.
func (b *base) danglingComments(ctx context.Context, artwork *domain.Artwork) ([]string, error) {
	var dangling []string
	for _, id := range artwork.Comments {
		_, found, err := b.comments.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			dangling = append(dangling, id)
		}
	}
	return dangling, nil
}

// imageInUse reports whether an artwork other than exceptArtwork or the
// profile of a user other than exceptUser references ref.
func (b *base) imageInUse(ctx context.Context, ref, exceptArtwork, exceptUser string) (bool, error) {
	_, found, err := b.artworks.FindFirst(ctx, func(a *domain.Artwork) bool {
		return a.ImageRef == ref && !domain.SameID(a.ID, exceptArtwork)
	})
	if err != nil || found {
		return found, err
	}
	_, found, err = b.users.FindFirst(ctx, func(u *domain.User) bool {
		return u.ProfilePicture == ref && !domain.SameID(u.ID, exceptUser)
	})
	return found, err
}

// save is a saga action persisting e.
func (b *base) save(e domain.Entity) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := b.gw.Save(ctx, e)
		return err
	}
}

// unsave is the compensation of save for a newly created entity.
func (b *base) unsave(e domain.Entity) func(context.Context) error {
	return func(ctx context.Context) error {
		if !b.gw.ForceDelete(ctx, e) {
			return fmt.Errorf("%s still present after force delete", domain.IdentityOf(e))
		}
		return nil
	}
}

// mutate is a saga action applying change to e and persisting it. If the
// save fails, revert is applied so e matches the store again.
func (b *base) mutate(e domain.Entity, change func() error, revert func()) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := change(); err != nil {
			return err
		}
		if _, err := b.gw.Save(ctx, e); err != nil {
			revert()
			return err
		}
		return nil
	}
}

// restore is the compensation of mutate.
func (b *base) restore(e domain.Entity, revert func()) func(context.Context) error {
	return func(ctx context.Context) error {
		revert()
		_, err := b.gw.Save(ctx, e)
		return err
	}
}
