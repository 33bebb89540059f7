package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered member of the platform.
type User struct {
	Base

	// Username is the unique login and display name (3-255 characters).
	Username string `json:"username"`

	// Email is the unique email address of the user.
	Email string `json:"email"`

	// PasswordHash is the bcrypt hash of the password. Plaintext is never stored.
	PasswordHash string `json:"password_hash"`

	// Points is the spendable balance. Never negative.
	Points int64 `json:"points"`

	// Bio is the free-form profile text.
	Bio string `json:"bio"`

	// ProfilePicture is an image reference in the image store.
	ProfilePicture string `json:"profile_picture"`

	// CreatedAt is the timestamp when the user registered.
	CreatedAt time.Time `json:"created_at"`

	// Artworks lists the ids of artworks authored by the user.
	Artworks []string `json:"artworks"`

	// Following lists the ids of users this user follows.
	Following []string `json:"following"`

	// Followers lists the ids of users following this user.
	// It mirrors Following on the other side of each relation.
	Followers []string `json:"followers"`
}

// NewUser creates a new User with default values.
func NewUser(username, email, passwordHash string) *User {
	return &User{
		Base:         Base{SchemaVersion: CurrentSchemaVersion},
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
		Artworks:     []string{},
		Following:    []string{},
		Followers:    []string{},
	}
}

// EntityType implements Entity.
func (u *User) EntityType() string { return TypeUser }

// Validate implements Entity.
func (u *User) Validate() error {
	if u.Points < 0 {
		return NewValidationError("points", "must not be negative")
	}
	return nil
}

// IsValid reports whether the record carries the minimum fields of a usable account.
func (u *User) IsValid() bool {
	return strings.TrimSpace(u.Username) != "" && u.PasswordHash != ""
}

// EnsureAttributes repairs collections and references left empty or
// unnormalized by older records. Calling it repeatedly has no further effect.
func (u *User) EnsureAttributes() {
	u.ID = NormalizeID(u.ID)
	u.Artworks = NormalizeIDs(u.Artworks)
	u.Following = NormalizeIDs(u.Following)
	u.Followers = NormalizeIDs(u.Followers)
	if u.Points < 0 {
		u.Points = 0
	}
}

// =============================================================================
// Points
// =============================================================================

// AddPoints credits the balance.
func (u *User) AddPoints(points int64) error {
	if points < 0 {
		return NewValidationError("points", "must not be negative")
	}
	u.Points += points
	return nil
}

// RemovePoints debits the balance. The balance never goes negative.
func (u *User) RemovePoints(points int64) error {
	if points < 0 {
		return NewValidationError("points", "must not be negative")
	}
	if points > u.Points {
		return ErrInsufficientPoints
	}
	u.Points -= points
	return nil
}

// CanWithdraw reports whether the balance reaches the withdrawal threshold.
func (u *User) CanWithdraw(minimum int64) bool {
	return u.Points >= minimum
}

// WithdrawalValue converts the whole balance to currency at rate per point.
func (u *User) WithdrawalValue(rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(u.Points).Mul(rate)
}

// =============================================================================
// Social graph
// =============================================================================

// Follow records that u follows other on both sides of the relation.
// Nothing is mutated when an error is returned.
func (u *User) Follow(other *User) error {
	if other == nil || SameID(u.ID, other.ID) {
		return ErrSelfFollow
	}
	if u.IsFollowing(other.ID) {
		return ErrAlreadyFollowing
	}
	u.Following, _ = addID(u.Following, other.ID)
	other.AddFollower(u.ID)
	return nil
}

// Unfollow removes the relation from both sides.
func (u *User) Unfollow(other *User) error {
	if other == nil || SameID(u.ID, other.ID) {
		return ErrSelfFollow
	}
	if !u.IsFollowing(other.ID) {
		return ErrNotFollowing
	}
	u.Following, _ = removeID(u.Following, other.ID)
	other.RemoveFollower(u.ID)
	return nil
}

// AddFollower adds id to the follower set.
func (u *User) AddFollower(id string) bool {
	if SameID(u.ID, id) {
		return false
	}
	var added bool
	u.Followers, added = addID(u.Followers, id)
	return added
}

// RemoveFollower removes id from the follower set.
func (u *User) RemoveFollower(id string) bool {
	var removed bool
	u.Followers, removed = removeID(u.Followers, id)
	return removed
}

// IsFollowing reports whether u follows id.
func (u *User) IsFollowing(id string) bool {
	return containsID(u.Following, id)
}

// IsFollowedBy reports whether id follows u.
func (u *User) IsFollowedBy(id string) bool {
	return containsID(u.Followers, id)
}

// AddArtwork links an authored artwork.
func (u *User) AddArtwork(id string) bool {
	var added bool
	u.Artworks, added = addID(u.Artworks, id)
	return added
}

// RemoveArtwork unlinks an authored artwork.
func (u *User) RemoveArtwork(id string) bool {
	var removed bool
	u.Artworks, removed = removeID(u.Artworks, id)
	return removed
}
