package service

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prn-tf/artshare/internal/domain"
	"github.com/prn-tf/artshare/internal/lock"
	"github.com/prn-tf/artshare/internal/pkg/saga"
	"github.com/prn-tf/artshare/internal/storage"
)

// ArtworkService handles artwork publishing, likes, views and deletion.
type ArtworkService struct {
	base
	images storage.ImageStore
}

// NewArtworkService creates a new ArtworkService. images may be nil, in
// which case artworks cannot carry an image.
func NewArtworkService(d Deps, images storage.ImageStore) *ArtworkService {
	return &ArtworkService{
		base:   newBase(d, "artwork"),
		images: images,
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// CreateArtworkInput contains the data needed to publish an artwork.
type CreateArtworkInput struct {
	AuthorID    string
	Title       string
	Description string

	// Tags is a comma separated list.
	Tags string

	// Image is optional. ImageSize may be -1 if unknown.
	Image     io.Reader
	ImageSize int64
	ImageName string
}

// UpdateArtworkInput contains the fields to change. Nil fields are kept.
type UpdateArtworkInput struct {
	ArtworkID   string
	UserID      string
	Title       *string
	Description *string
	Tags        *string
}

// Explore search scopes.
const (
	SearchAll   = "all"
	SearchTitle = "title"
	SearchTags  = "tags"
)

// Explore sort keys.
const (
	SortRecent = "recent"
	SortTitle  = "title"
	SortLikes  = "likes"
	SortViews  = "views"
	SortPoints = "points"
)

// ExploreInput selects and orders artworks for browsing.
type ExploreInput struct {
	// Query is matched as a case-insensitive substring. Empty matches all.
	Query string

	// SearchType is one of SearchAll, SearchTitle or SearchTags; empty means SearchAll.
	SearchType string

	// SortBy is one of the Sort keys; empty or unknown means SortRecent.
	SortBy string
	Desc   bool
}

// DeleteArtworkOutput describes what the deletion cascade removed.
type DeleteArtworkOutput struct {
	ImageRemoved    bool
	CommentsRemoved int
	CommentsFailed  []string
	AuthorUnlinked  bool
}

// =============================================================================
// Service Methods
// =============================================================================

// Create publishes an artwork. The image upload, the artwork record and the
// link from the author are undone together if any of them fails.
func (s *ArtworkService) Create(ctx context.Context, input CreateArtworkInput) (*domain.Artwork, error) {
	author, err := s.user(ctx, input.AuthorID)
	if err != nil {
		return nil, err
	}

	artwork := domain.NewArtwork(input.Title, input.Description, "", author.ID, domain.ParseTags(input.Tags))
	if err := artwork.Validate(); err != nil {
		return nil, err
	}
	if input.Image != nil && s.images == nil {
		return nil, fmt.Errorf("%w: image storage is not configured", ErrInternalError)
	}

	release, err := s.lock(ctx, lock.Keys.User(author.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	if author, err = s.lockedUser(ctx, author.ID); err != nil {
		return nil, err
	}

	sg := saga.New("create_artwork", s.logger, s.metrics)
	if input.Image != nil {
		var newImage bool
		sg.Step("store_image", func(ctx context.Context) error {
			ref, created, err := s.putImage(ctx, input.Image, input.ImageSize, input.ImageName)
			if err != nil {
				return err
			}
			artwork.ImageRef, newImage = ref, created
			return nil
		}, func(ctx context.Context) error {
			if !newImage {
				return nil
			}
			return s.images.Delete(ctx, artwork.ImageRef)
		})
	}

	link := func() error {
		author.AddArtwork(artwork.ID)
		return nil
	}
	unlink := func() { author.RemoveArtwork(artwork.ID) }

	err = sg.
		Step("save_artwork", s.save(artwork), s.unsave(artwork)).
		Step("link_author", s.mutate(author, link, unlink), s.restore(author, unlink)).
		Run(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", author.ID).Msg("artwork creation failed")
		return nil, err
	}

	s.logger.Info().
		Str("artwork_id", artwork.ID).
		Str("user_id", author.ID).
		Str("image_ref", artwork.ImageRef).
		Msg("artwork created")

	return artwork, nil
}

// putImage stores an image and reports whether it was not stored before.
func (s *ArtworkService) putImage(ctx context.Context, r io.Reader, size int64, name string) (string, bool, error) {
	ref, err := s.images.Put(ctx, r, size, name)
	if err != nil {
		return "", false, err
	}
	shared, err := s.imageInUse(ctx, ref, "", "")
	if err != nil {
		return "", false, err
	}
	return ref, !shared, nil
}

// Get returns an artwork.
func (s *ArtworkService) Get(ctx context.Context, artworkID string) (*domain.Artwork, error) {
	return s.artwork(ctx, artworkID)
}

// View returns an artwork and counts one view.
func (s *ArtworkService) View(ctx context.Context, artworkID string) (*domain.Artwork, error) {
	artwork, err := s.artwork(ctx, artworkID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, lock.Keys.Artwork(artwork.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	if artwork, err = s.lockedArtwork(ctx, artwork.ID); err != nil {
		return nil, err
	}
	artwork.IncrementViews()
	if !s.gw.Update(ctx, artwork) {
		s.logger.Warn().Str("artwork_id", artwork.ID).Msg("failed to record view")
	}
	return artwork, nil
}

// Update changes the title, description or tags. Only the author may do it.
func (s *ArtworkService) Update(ctx context.Context, input UpdateArtworkInput) (*domain.Artwork, error) {
	artwork, err := s.artwork(ctx, input.ArtworkID)
	if err != nil {
		return nil, err
	}
	if !artwork.IsAuthor(input.UserID) {
		return nil, domain.ErrAccessDenied
	}

	release, err := s.lock(ctx, lock.Keys.Artwork(artwork.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	if artwork, err = s.lockedArtwork(ctx, artwork.ID); err != nil {
		return nil, err
	}
	if input.Title != nil {
		artwork.Title = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil {
		artwork.Description = *input.Description
	}
	if input.Tags != nil {
		artwork.Tags = domain.ParseTags(*input.Tags)
	}
	artwork.Touch()

	if _, err := s.gw.Save(ctx, artwork); err != nil {
		return nil, err
	}

	s.logger.Info().Str("artwork_id", artwork.ID).Msg("artwork updated")
	return artwork, nil
}

// ToggleLike flips the like of userID and returns whether it now likes the artwork.
func (s *ArtworkService) ToggleLike(ctx context.Context, artworkID, userID string) (bool, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return false, err
	}
	artwork, err := s.artwork(ctx, artworkID)
	if err != nil {
		return false, err
	}

	release, err := s.lock(ctx, lock.Keys.Artwork(artwork.ID))
	if err != nil {
		return false, err
	}
	defer release()

	if artwork, err = s.lockedArtwork(ctx, artwork.ID); err != nil {
		return false, err
	}
	liked := artwork.ToggleLike(user.ID)
	if _, err := s.gw.Save(ctx, artwork); err != nil {
		return false, err
	}
	return liked, nil
}

// List returns every artwork, newest first.
func (s *ArtworkService) List(ctx context.Context) ([]*domain.Artwork, error) {
	artworks, err := s.artworks.FindAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(artworks)
	return artworks, nil
}

// ListByAuthor returns the artworks of authorID, newest first.
func (s *ArtworkService) ListByAuthor(ctx context.Context, authorID string) ([]*domain.Artwork, error) {
	artworks, err := s.artworks.FindAll(ctx, func(a *domain.Artwork) bool {
		return a.IsAuthor(authorID)
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(artworks)
	return artworks, nil
}

// Explore returns the artworks whose author still exists and whose title or
// tags contain the query, sorted by input.SortBy.
func (s *ArtworkService) Explore(ctx context.Context, input ExploreInput) ([]*domain.Artwork, error) {
	query := strings.ToLower(strings.TrimSpace(input.Query))
	searchType := input.SearchType
	if searchType == "" {
		searchType = SearchAll
	}

	var match func(*domain.Artwork) bool
	switch searchType {
	case SearchAll:
		match = func(a *domain.Artwork) bool { return titleMatches(a, query) || tagsMatch(a, query) }
	case SearchTitle:
		match = func(a *domain.Artwork) bool { return titleMatches(a, query) }
	case SearchTags:
		match = func(a *domain.Artwork) bool { return tagsMatch(a, query) }
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSearchType, input.SearchType)
	}

	users, err := s.users.FindAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	authors := make(map[string]bool, len(users))
	for _, u := range users {
		authors[domain.NormalizeID(u.ID)] = true
	}

	artworks, err := s.artworks.FindAll(ctx, func(a *domain.Artwork) bool {
		return authors[domain.NormalizeID(a.AuthorID)] && (query == "" || match(a))
	})
	if err != nil {
		return nil, err
	}

	compare := exploreOrder(input.SortBy)
	sort.SliceStable(artworks, func(i, j int) bool {
		c := compare(artworks[i], artworks[j])
		if input.Desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return domain.CompareIDs(artworks[i].ID, artworks[j].ID) < 0
	})
	return artworks, nil
}

func titleMatches(a *domain.Artwork, query string) bool {
	return strings.Contains(strings.ToLower(a.Title), query)
}

func tagsMatch(a *domain.Artwork, query string) bool {
	for _, tag := range a.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

// exploreOrder returns the ascending comparison for a sort key.
func exploreOrder(sortBy string) func(a, b *domain.Artwork) int {
	switch sortBy {
	case SortTitle:
		return func(a, b *domain.Artwork) int {
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		}
	case SortLikes:
		return func(a, b *domain.Artwork) int { return cmp.Compare(len(a.Likes), len(b.Likes)) }
	case SortViews:
		return func(a, b *domain.Artwork) int { return cmp.Compare(a.Views, b.Views) }
	case SortPoints:
		return func(a, b *domain.Artwork) int { return cmp.Compare(a.PointsReceived, b.PointsReceived) }
	default:
		return func(a, b *domain.Artwork) int { return a.CreatedAt.Compare(b.CreatedAt) }
	}
}

func sortNewestFirst(artworks []*domain.Artwork) {
	sort.SliceStable(artworks, func(i, j int) bool {
		if !artworks[i].CreatedAt.Equal(artworks[j].CreatedAt) {
			return artworks[i].CreatedAt.After(artworks[j].CreatedAt)
		}
		return domain.CompareIDs(artworks[i].ID, artworks[j].ID) > 0
	})
}

// Delete removes an artwork and its dependents. Only the author may do it.
//
// The image, every comment and the author's reference are removed first,
// each on a best-effort basis: failures are logged and the cascade goes on.
// The artwork itself is removed last and its failure is returned. A partial
// cascade leaves orphans that every lookup tolerates.
func (s *ArtworkService) Delete(ctx context.Context, artworkID, userID string) (*DeleteArtworkOutput, error) {
	artwork, err := s.artwork(ctx, artworkID)
	if err != nil {
		return nil, err
	}
	if !artwork.IsAuthor(userID) {
		return nil, domain.ErrAccessDenied
	}

	release, err := s.lock(ctx, lock.Keys.Artwork(artwork.ID), lock.Keys.User(artwork.AuthorID))
	if err != nil {
		return nil, err
	}
	defer release()

	if artwork, err = s.lockedArtwork(ctx, artwork.ID); err != nil {
		return nil, err
	}
	log := s.logger.With().Str("artwork_id", artwork.ID).Logger()
	out := &DeleteArtworkOutput{}

	// 1. Image
	if artwork.ImageRef != "" && s.images != nil {
		shared, err := s.imageInUse(ctx, artwork.ImageRef, artwork.ID, "")
		switch {
		case err != nil:
			log.Error().Err(err).Msg("failed to check image references")
		case shared:
			log.Debug().Str("image_ref", artwork.ImageRef).Msg("image shared with another artwork, keeping it")
		default:
			if err := s.images.Delete(ctx, artwork.ImageRef); err != nil && !storage.IsNotFound(err) {
				log.Error().Err(err).Str("image_ref", artwork.ImageRef).Msg("failed to delete image")
			} else {
				out.ImageRemoved = true
			}
		}
	}

	// 2. Comments
	for _, commentID := range artwork.Comments {
		comment, found, err := s.comments.FindByID(ctx, commentID)
		if err != nil {
			log.Error().Err(err).Str("comment_id", commentID).Msg("failed to load comment")
			out.CommentsFailed = append(out.CommentsFailed, commentID)
			continue
		}
		if !found {
			continue
		}
		if _, err := s.comments.Delete(ctx, comment); err != nil {
			log.Error().Err(err).Str("comment_id", commentID).Msg("failed to delete comment")
			out.CommentsFailed = append(out.CommentsFailed, commentID)
			continue
		}
		out.CommentsRemoved++
	}

	// 3. Author reference
	author, found, err := s.users.FindByID(ctx, artwork.AuthorID)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("failed to load author")
	case !found:
		log.Warn().Str("user_id", artwork.AuthorID).Msg("artwork author no longer exists")
	case author.RemoveArtwork(artwork.ID):
		if _, err := s.gw.Save(ctx, author); err != nil {
			log.Error().Err(err).Str("user_id", author.ID).Msg("failed to unlink artwork from author")
		} else {
			out.AuthorUnlinked = true
		}
	}

	// 4. Artwork
	if _, err := s.artworks.Delete(ctx, artwork); err != nil {
		return out, err
	}

	log.Info().
		Int("comments_removed", out.CommentsRemoved).
		Int("comments_failed", len(out.CommentsFailed)).
		Bool("image_removed", out.ImageRemoved).
		Msg("artwork deleted")

	return out, nil
}
