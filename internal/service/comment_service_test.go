package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/artshare/internal/domain"
)

func TestCommentService_CreateAndList(t *testing.T) {
	h := newHarness(t)
	svc := NewCommentService(h.deps)
	ctx := context.Background()

	bob := h.user(t, "bob", 0)
	alice := h.user(t, "alice", 0)
	art := h.artwork(t, bob, "Sunset")

	first, err := svc.Create(ctx, art.ID, alice.ID, "  lovely ")
	require.NoError(t, err)
	assert.Equal(t, "lovely", first.Content)
	second, err := svc.Create(ctx, "artwork@"+art.ID, bob.ID, "thanks")
	require.NoError(t, err)

	assert.Equal(t, []string{first.ID, second.ID}, h.reloadArtwork(t, art.ID).Comments)

	list, err := svc.ListForArtwork(ctx, art.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "lovely", list[0].Content)
	assert.Equal(t, "thanks", list[1].Content)

	_, err = svc.Create(ctx, art.ID, alice.ID, "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyContent)
	_, err = svc.Create(ctx, "404", alice.ID, "hi")
	assert.ErrorIs(t, err, domain.ErrArtworkNotFound)
	_, err = svc.Create(ctx, art.ID, "404", "hi")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestCommentService_CreateRollsBackWhenArtworkSaveFails(t *testing.T) {
	h := newHarness(t)
	svc := NewCommentService(h.deps)
	ctx := context.Background()

	bob := h.user(t, "bob", 0)
	art := h.artwork(t, bob, "Sunset")

	h.store.failSaves(domain.TypeArtwork, true)
	_, err := svc.Create(ctx, art.ID, bob.ID, "hello")
	require.Error(t, err)
	h.store.failSaves(domain.TypeArtwork, false)

	assert.Zero(t, h.count(t, domain.TypeComment))
	assert.Empty(t, h.reloadArtwork(t, art.ID).Comments)
}

func TestCommentService_Edit(t *testing.T) {
	h := newHarness(t)
	svc := NewCommentService(h.deps)
	ctx := context.Background()

	bob := h.user(t, "bob", 0)
	alice := h.user(t, "alice", 0)
	art := h.artwork(t, bob, "Sunset")
	c, err := svc.Create(ctx, art.ID, alice.ID, "nice")
	require.NoError(t, err)

	_, err = svc.Edit(ctx, c.ID, bob.ID, "hacked")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	_, err = svc.Edit(ctx, c.ID, alice.ID, "")
	assert.ErrorIs(t, err, domain.ErrEmptyContent)

	edited, err := svc.Edit(ctx, c.ID, alice.ID, "very nice")
	require.NoError(t, err)
	assert.Equal(t, "very nice", edited.Content)

	list, err := svc.ListForArtwork(ctx, art.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "very nice", list[0].Content)
}

func TestCommentService_Delete(t *testing.T) {
	h := newHarness(t)
	svc := NewCommentService(h.deps)
	ctx := context.Background()

	bob := h.user(t, "bob", 0)
	alice := h.user(t, "alice", 0)
	carol := h.user(t, "carol", 0)
	art := h.artwork(t, bob, "Sunset")

	byAlice, err := svc.Create(ctx, art.ID, alice.ID, "one")
	require.NoError(t, err)
	byCarol, err := svc.Create(ctx, art.ID, carol.ID, "two")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, byAlice.ID, carol.ID), domain.ErrAccessDenied)

	// Comment author.
	require.NoError(t, svc.Delete(ctx, byAlice.ID, alice.ID))
	// Artwork author.
	require.NoError(t, svc.Delete(ctx, byCarol.ID, bob.ID))

	assert.Zero(t, h.count(t, domain.TypeComment))
	assert.Empty(t, h.reloadArtwork(t, art.ID).Comments)
	assert.ErrorIs(t, svc.Delete(ctx, byAlice.ID, alice.ID), domain.ErrCommentNotFound)
}

func TestCommentService_ListSkipsMissing(t *testing.T) {
	h := newHarness(t)
	svc := NewCommentService(h.deps)
	ctx := context.Background()

	bob := h.user(t, "bob", 0)
	art := h.artwork(t, bob, "Sunset")
	c, err := svc.Create(ctx, art.ID, bob.ID, "kept")
	require.NoError(t, err)

	stored := h.reloadArtwork(t, art.ID)
	stored.AddComment("77")
	_, err = h.gw.Save(ctx, stored)
	require.NoError(t, err)

	list, err := svc.ListForArtwork(ctx, art.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)
}
