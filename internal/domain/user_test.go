package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdentifiedUser(id, username string) *User {
	u := NewUser(username, username+"@example.com", "hash")
	u.SetEntityID(id)
	return u
}

func TestUser_Points(t *testing.T) {
	u := newIdentifiedUser("1", "alice")

	require.NoError(t, u.AddPoints(500))
	assert.Equal(t, int64(500), u.Points)

	require.NoError(t, u.RemovePoints(200))
	assert.Equal(t, int64(300), u.Points)

	err := u.RemovePoints(301)
	assert.ErrorIs(t, err, ErrInsufficientPoints)
	assert.Equal(t, int64(300), u.Points)

	err = u.AddPoints(-1)
	assert.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.True(t, errors.As(u.RemovePoints(-5), &verr))
	assert.Equal(t, "points", verr.Field)
}

func TestUser_Withdrawal(t *testing.T) {
	u := newIdentifiedUser("1", "alice")
	u.Points = 999
	assert.False(t, u.CanWithdraw(1000))

	u.Points = 1500
	assert.True(t, u.CanWithdraw(1000))
	assert.True(t, u.WithdrawalValue(decimal.RequireFromString("0.01")).Equal(decimal.RequireFromString("15")))
}

func TestUser_Validate(t *testing.T) {
	u := newIdentifiedUser("1", "alice")
	assert.NoError(t, u.Validate())

	u.Points = -1
	assert.ErrorIs(t, u.Validate(), ErrValidation)
}

func TestUser_FollowSymmetry(t *testing.T) {
	a := newIdentifiedUser("1", "alice")
	b := newIdentifiedUser("2", "bob")

	require.NoError(t, a.Follow(b))
	assert.True(t, a.IsFollowing("2"))
	assert.True(t, b.IsFollowedBy("1"))
	assert.True(t, b.IsFollowedBy("user@1"))

	assert.ErrorIs(t, a.Follow(b), ErrAlreadyFollowing)
	assert.Equal(t, []string{"2"}, a.Following)
	assert.Equal(t, []string{"1"}, b.Followers)

	require.NoError(t, a.Unfollow(b))
	assert.False(t, a.IsFollowing("2"))
	assert.False(t, b.IsFollowedBy("1"))
	assert.ErrorIs(t, a.Unfollow(b), ErrNotFollowing)
}

func TestUser_SelfFollowMutatesNothing(t *testing.T) {
	a := newIdentifiedUser("1", "alice")
	alias := newIdentifiedUser("user@1", "alice")

	assert.ErrorIs(t, a.Follow(a), ErrSelfFollow)
	assert.ErrorIs(t, a.Follow(alias), ErrSelfFollow)
	assert.ErrorIs(t, a.Follow(nil), ErrSelfFollow)
	assert.Empty(t, a.Following)
	assert.Empty(t, a.Followers)
	assert.False(t, a.AddFollower("1"))
}

func TestUser_EnsureAttributesIdempotent(t *testing.T) {
	u := &User{
		Base:      Base{ID: "user@4"},
		Username:  "legacy",
		Artworks:  []string{"artwork@1", "1", "bad"},
		Following: nil,
		Followers: []string{"user@9"},
		Points:    -10,
	}

	u.EnsureAttributes()
	once := *u
	once.Artworks = append([]string(nil), u.Artworks...)
	once.Following = append([]string{}, u.Following...)
	once.Followers = append([]string(nil), u.Followers...)

	u.EnsureAttributes()

	assert.Equal(t, once, *u)
	assert.Equal(t, "4", u.ID)
	assert.Equal(t, []string{"1"}, u.Artworks)
	assert.Equal(t, []string{}, u.Following)
	assert.Equal(t, []string{"9"}, u.Followers)
	assert.Equal(t, int64(0), u.Points)
}

func TestUser_IsValid(t *testing.T) {
	assert.True(t, NewUser("alice", "a@example.com", "hash").IsValid())
	assert.False(t, NewUser("", "a@example.com", "hash").IsValid())
	assert.False(t, NewUser("alice", "a@example.com", "").IsValid())
}

func TestUser_Artworks(t *testing.T) {
	u := newIdentifiedUser("1", "alice")
	assert.True(t, u.AddArtwork("artwork@5"))
	assert.False(t, u.AddArtwork("5"))
	assert.Equal(t, []string{"5"}, u.Artworks)
	assert.True(t, u.RemoveArtwork("5"))
	assert.False(t, u.RemoveArtwork("5"))
	assert.Empty(t, u.Artworks)
}
