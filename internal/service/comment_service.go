package service

import (
	"context"

	"github.com/prn-tf/artshare/internal/domain"
	"github.com/prn-tf/artshare/internal/lock"
	"github.com/prn-tf/artshare/internal/pkg/saga"
)

// CommentService handles comments on artworks.
type CommentService struct {
	base
}

// NewCommentService creates a new CommentService.
func NewCommentService(d Deps) *CommentService {
	return &CommentService{base: newBase(d, "comment")}
}

// Create adds a comment to an artwork.
func (s *CommentService) Create(ctx context.Context, artworkID, authorID, content string) (*domain.Comment, error) {
	author, err := s.user(ctx, authorID)
	if err != nil {
		return nil, err
	}
	artwork, err := s.artwork(ctx, artworkID)
	if err != nil {
		return nil, err
	}

	comment := domain.NewComment(content, author.ID, artwork.ID)
	if err := comment.Validate(); err != nil {
		return nil, domain.ErrEmptyContent
	}

	release, err := s.lock(ctx, lock.Keys.Artwork(artwork.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	if artwork, err = s.lockedArtwork(ctx, artwork.ID); err != nil {
		return nil, err
	}

	link := func() error {
		artwork.AddComment(comment.ID)
		return nil
	}
	unlink := func() { artwork.RemoveComment(comment.ID) }

	err = saga.New("create_comment", s.logger, s.metrics).
		Step("save_comment", s.save(comment), s.unsave(comment)).
		Step("link_artwork", s.mutate(artwork, link, unlink), s.restore(artwork, unlink)).
		Run(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("comment_id", comment.ID).
		Str("artwork_id", artwork.ID).
		Msg("comment created")

	return comment, nil
}

// Edit replaces the content of a comment. Only its author may do it.
func (s *CommentService) Edit(ctx context.Context, commentID, userID, content string) (*domain.Comment, error) {
	comment, err := s.comment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if !domain.SameID(comment.AuthorID, userID) {
		return nil, domain.ErrAccessDenied
	}
	if err := comment.Edit(content); err != nil {
		return nil, err
	}
	if _, err := s.gw.Save(ctx, comment); err != nil {
		return nil, err
	}
	return comment, nil
}

// Delete removes a comment. Its author and the author of the artwork may do it.
// The artwork is unlinked first so a failed delete leaves an unreferenced
// comment rather than a dangling reference.
func (s *CommentService) Delete(ctx context.Context, commentID, userID string) error {
	comment, err := s.comment(ctx, commentID)
	if err != nil {
		return err
	}

	artwork, found, err := s.artworks.FindByID(ctx, comment.ArtworkID)
	if err != nil {
		return err
	}
	allowed := domain.SameID(comment.AuthorID, userID) || (found && artwork.IsAuthor(userID))
	if !allowed {
		return domain.ErrAccessDenied
	}

	if found {
		release, err := s.lock(ctx, lock.Keys.Artwork(artwork.ID))
		if err != nil {
			return err
		}
		defer release()

		if artwork, err = s.lockedArtwork(ctx, artwork.ID); err != nil {
			return err
		}
		if artwork.RemoveComment(comment.ID) {
			if _, err := s.gw.Save(ctx, artwork); err != nil {
				return err
			}
		}
	}

	if _, err := s.comments.Delete(ctx, comment); err != nil {
		return err
	}

	s.logger.Debug().Str("comment_id", comment.ID).Msg("comment deleted")
	return nil
}

// ListForArtwork returns the comments of an artwork in posting order.
// Missing comments are skipped.
func (s *CommentService) ListForArtwork(ctx context.Context, artworkID string) ([]*domain.Comment, error) {
	artwork, err := s.artwork(ctx, artworkID)
	if err != nil {
		return nil, err
	}
	return s.comments.FindManyByIDs(ctx, artwork.Comments)
}
