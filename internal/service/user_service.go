package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"sort"
	"strings"

	"github.com/prn-tf/artshare/internal/domain"
	"github.com/prn-tf/artshare/internal/lock"
	"github.com/prn-tf/artshare/internal/pkg/crypto"
	"github.com/prn-tf/artshare/internal/pkg/saga"
	"github.com/prn-tf/artshare/internal/storage"
)

// UserService handles accounts, profiles and the follow graph.
type UserService struct {
	base
	images storage.ImageStore
}

// NewUserService creates a new UserService. images may be nil, in which
// case profile pictures cannot be uploaded.
func NewUserService(d Deps, images storage.ImageStore) *UserService {
	return &UserService{
		base:   newBase(d, "user"),
		images: images,
	}
}

// RegisterInput contains the data needed to create a new user.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// UpdateProfileInput contains the profile fields to change. Nil fields are kept.
type UpdateProfileInput struct {
	UserID string
	Bio    *string
	Email  *string

	// Picture replaces the profile picture when set.
	Picture     io.Reader
	PictureSize int64
	PictureName string
}

// ChangePasswordInput contains the data needed to change a password.
type ChangePasswordInput struct {
	UserID      string
	OldPassword string
	NewPassword string
}

// Register creates a new user account with a zero balance. The username and
// email are locked while their uniqueness is checked and the user is saved.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(input.Email)
	if err := validateRegisterInput(input); err != nil {
		return nil, err
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash password")
		return nil, fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	release, err := s.lock(ctx, lock.Keys.Username(input.Username), lock.Keys.Email(input.Email))
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.checkAvailable(ctx, input.Username, input.Email, ""); err != nil {
		return nil, err
	}

	user := domain.NewUser(input.Username, input.Email, hash)
	if _, err := s.gw.Save(ctx, user); err != nil {
		s.logger.Error().Err(err).Str("username", input.Username).Msg("failed to create user")
		return nil, err
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("username", user.Username).
		Msg("user registered")

	return user, nil
}

// checkAvailable fails with ErrUserAlreadyExists if username or email is used
// by a user other than exceptID.
func (s *UserService) checkAvailable(ctx context.Context, username, email, exceptID string) error {
	taken, err := s.taken(ctx, username, email, exceptID)
	if err != nil {
		s.logger.Error().Err(err).Str("username", username).Msg("failed to check user uniqueness")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if taken != "" {
		return fmt.Errorf("%w: %s", domain.ErrUserAlreadyExists, taken)
	}
	return nil
}

// taken returns which of username or email is already used by a user other
// than exceptID, or "" if both are free. Comparison ignores case.
func (s *UserService) taken(ctx context.Context, username, email, exceptID string) (string, error) {
	existing, found, err := s.users.FindFirst(ctx, func(u *domain.User) bool {
		if domain.SameID(u.ID, exceptID) {
			return false
		}
		return (username != "" && strings.EqualFold(u.Username, username)) ||
			(email != "" && strings.EqualFold(u.Email, email))
	})
	if err != nil || !found {
		return "", err
	}
	if username != "" && strings.EqualFold(existing.Username, username) {
		return fmt.Sprintf("username %q", username), nil
	}
	return fmt.Sprintf("email %q", email), nil
}

// Authenticate verifies a password for a username or email and returns the user.
func (s *UserService) Authenticate(ctx context.Context, login, password string) (*domain.User, error) {
	login = strings.TrimSpace(login)
	user, found, err := s.users.FindFirst(ctx, func(u *domain.User) bool {
		return u.Username == login || strings.EqualFold(u.Email, login)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		s.logger.Debug().Str("login", login).Msg("user not found during authentication")
		return nil, domain.ErrInvalidCredentials
	}

	if err := crypto.CheckPassword(user.PasswordHash, password); err != nil {
		if !errors.Is(err, crypto.ErrPasswordMismatch) {
			s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("stored password hash is unusable")
		}
		return nil, domain.ErrInvalidCredentials
	}

	s.logger.Info().Str("user_id", user.ID).Msg("user authenticated")
	return user, nil
}

// GetByID retrieves a user by id.
func (s *UserService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return s.user(ctx, id)
}

// GetByUsername retrieves a user by exact username.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, found, err := s.users.FindFirst(ctx, func(u *domain.User) bool {
		return u.Username == username
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", domain.ErrUserNotFound, username)
	}
	return user, nil
}

// Search returns users whose username contains query, ignoring case,
// sorted by username.
func (s *UserService) Search(ctx context.Context, query string) ([]*domain.User, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	users, err := s.users.FindAll(ctx, func(u *domain.User) bool {
		return strings.Contains(strings.ToLower(u.Username), query)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(users, func(i, j int) bool {
		return strings.ToLower(users[i].Username) < strings.ToLower(users[j].Username)
	})
	return users, nil
}

// Followers returns the users following userID. Missing users are skipped.
func (s *UserService) Followers(ctx context.Context, userID string) ([]*domain.User, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.users.FindManyByIDs(ctx, user.Followers)
}

// Following returns the users userID follows. Missing users are skipped.
func (s *UserService) Following(ctx context.Context, userID string) ([]*domain.User, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.users.FindManyByIDs(ctx, user.Following)
}

// Friends returns the users userID follows who follow back, sorted by
// username. Missing users are skipped.
func (s *UserService) Friends(ctx context.Context, userID string) ([]*domain.User, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	following, err := s.users.FindManyByIDs(ctx, user.Following)
	if err != nil {
		return nil, err
	}

	friends := make([]*domain.User, 0, len(following))
	for _, u := range following {
		if user.IsFollowedBy(u.ID) {
			friends = append(friends, u)
		}
	}
	sort.SliceStable(friends, func(i, j int) bool {
		return strings.ToLower(friends[i].Username) < strings.ToLower(friends[j].Username)
	})
	return friends, nil
}

// UpdateProfile changes the bio, email or picture of a user. A replaced
// picture is deleted unless another user or artwork still shows it.
func (s *UserService) UpdateProfile(ctx context.Context, input UpdateProfileInput) (user *domain.User, err error) {
	if user, err = s.user(ctx, input.UserID); err != nil {
		return nil, err
	}
	userID, original := user.ID, user.ProfilePicture

	keys := []string{lock.Keys.User(userID)}
	var email string
	if input.Email != nil {
		email = strings.TrimSpace(*input.Email)
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, ErrInvalidEmail
		}
		if err := s.checkAvailable(ctx, "", email, userID); err != nil {
			return nil, err
		}
		keys = append(keys, lock.Keys.Email(email))
	}

	var picture string
	if input.Picture != nil {
		if s.images == nil {
			return nil, fmt.Errorf("%w: image storage is not configured", ErrInternalError)
		}
		if picture, err = s.images.Put(ctx, input.Picture, input.PictureSize, input.PictureName); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil && picture != original {
				s.releaseImage(ctx, picture, userID)
			}
		}()
	}

	release, err := s.lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	if user, err = s.lockedUser(ctx, userID); err != nil {
		return nil, err
	}
	if input.Email != nil {
		if err = s.checkAvailable(ctx, "", email, userID); err != nil {
			return nil, err
		}
		user.Email = email
	}
	if input.Bio != nil {
		user.Bio = *input.Bio
	}
	previous := user.ProfilePicture
	if picture != "" {
		user.ProfilePicture = picture
	}

	if _, err = s.gw.Save(ctx, user); err != nil {
		return nil, err
	}
	if picture != "" && previous != "" && previous != picture {
		s.releaseImage(ctx, previous, user.ID)
	}

	s.logger.Info().Str("user_id", user.ID).Msg("profile updated")
	return user, nil
}

// releaseImage deletes ref unless a user other than userID or any artwork
// still references it.
func (s *UserService) releaseImage(ctx context.Context, ref, userID string) {
	log := s.logger.With().Str("user_id", userID).Str("image_ref", ref).Logger()
	shared, err := s.imageInUse(ctx, ref, "", userID)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("failed to check image references")
	case shared:
		log.Debug().Msg("image still referenced, keeping it")
	default:
		if err := s.images.Delete(ctx, ref); err != nil && !storage.IsNotFound(err) {
			log.Error().Err(err).Msg("failed to delete profile picture")
		}
	}
}

// ChangePassword replaces the password after checking the old one.
func (s *UserService) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	user, err := s.user(ctx, input.UserID)
	if err != nil {
		return err
	}
	if err := crypto.CheckPassword(user.PasswordHash, input.OldPassword); err != nil {
		return domain.ErrInvalidCredentials
	}
	if len(input.NewPassword) < 8 {
		return ErrInvalidPassword
	}

	hash, err := crypto.HashPassword(input.NewPassword)
	if err != nil {
		return fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	release, err := s.lock(ctx, lock.Keys.User(user.ID))
	if err != nil {
		return err
	}
	defer release()

	if user, err = s.lockedUser(ctx, user.ID); err != nil {
		return err
	}
	user.PasswordHash = hash
	if _, err := s.gw.Save(ctx, user); err != nil {
		return err
	}

	s.logger.Info().Str("user_id", user.ID).Msg("password updated")
	return nil
}

// =============================================================================
// Follow graph
// =============================================================================

// Follow makes followerID follow followeeID. Both records are written or
// neither is.
func (s *UserService) Follow(ctx context.Context, followerID, followeeID string) error {
	return s.relate(ctx, "follow", followerID, followeeID,
		func(a, b *domain.User) error { return a.Follow(b) },
		func(a, b *domain.User) { _ = a.Unfollow(b) },
	)
}

// Unfollow removes the relation from both records.
func (s *UserService) Unfollow(ctx context.Context, followerID, followeeID string) error {
	return s.relate(ctx, "unfollow", followerID, followeeID,
		func(a, b *domain.User) error { return a.Unfollow(b) },
		func(a, b *domain.User) { _ = a.Follow(b) },
	)
}

func (s *UserService) relate(
	ctx context.Context,
	name, followerID, followeeID string,
	apply func(a, b *domain.User) error,
	revert func(a, b *domain.User),
) error {
	if domain.SameID(followerID, followeeID) {
		return domain.ErrSelfFollow
	}
	if _, err := s.user(ctx, followerID); err != nil {
		return err
	}
	if _, err := s.user(ctx, followeeID); err != nil {
		return err
	}

	release, err := s.lock(ctx,
		lock.Keys.User(domain.NormalizeID(followerID)),
		lock.Keys.User(domain.NormalizeID(followeeID)),
	)
	if err != nil {
		return err
	}
	defer release()

	follower, err := s.lockedUser(ctx, followerID)
	if err != nil {
		return err
	}
	followee, err := s.lockedUser(ctx, followeeID)
	if err != nil {
		return err
	}
	if err := apply(follower, followee); err != nil {
		return err
	}

	undo := func() { revert(follower, followee) }
	err = saga.New(name, s.logger, s.metrics).
		Step("save_follower", s.save(follower), s.restore(follower, undo)).
		Step("save_followee", s.save(followee), nil).
		Run(ctx)
	if err != nil {
		return err
	}

	s.logger.Debug().
		Str("follower_id", follower.ID).
		Str("followee_id", followee.ID).
		Msg(name + " recorded")

	return nil
}

// SyncUserArtworks drops the ids of artworks that no longer exist from the
// artwork list of a user and returns them.
func (s *UserService) SyncUserArtworks(ctx context.Context, userID string) ([]string, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, lock.Keys.User(user.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	if user, err = s.lockedUser(ctx, user.ID); err != nil {
		return nil, err
	}
	dangling, err := s.danglingArtworks(ctx, user)
	if err != nil || len(dangling) == 0 {
		return dangling, err
	}

	for _, id := range dangling {
		user.RemoveArtwork(id)
	}
	if _, err := s.gw.Save(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Strs("dropped", dangling).
		Msg("artwork list resynchronized")

	return dangling, nil
}

func validateRegisterInput(input RegisterInput) error {
	if len(input.Username) < 3 || len(input.Username) > 255 {
		return ErrInvalidUsername
	}
	if _, err := mail.ParseAddress(input.Email); err != nil {
		return ErrInvalidEmail
	}
	if len(input.Password) < 8 {
		return ErrInvalidPassword
	}
	return nil
}
