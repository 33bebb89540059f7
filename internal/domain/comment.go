package domain

import (
	"strings"
	"time"
)

// Comment is a text reply attached to an artwork.
type Comment struct {
	Base

	Content   string    `json:"content"`
	AuthorID  string    `json:"author_id"`
	ArtworkID string    `json:"artwork_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewComment creates a new Comment.
func NewComment(content, authorID, artworkID string) *Comment {
	now := time.Now().UTC()
	return &Comment{
		Base:      Base{SchemaVersion: CurrentSchemaVersion},
		Content:   strings.TrimSpace(content),
		AuthorID:  NormalizeID(authorID),
		ArtworkID: NormalizeID(artworkID),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// EntityType implements Entity.
func (c *Comment) EntityType() string { return TypeComment }

// Validate implements Entity.
func (c *Comment) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return NewValidationError("content", "must not be empty")
	}
	return nil
}

// Edit replaces the content and bumps UpdatedAt.
func (c *Comment) Edit(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyContent
	}
	c.Content = content
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// IsEdited reports whether the comment changed after creation.
func (c *Comment) IsEdited() bool {
	return c.UpdatedAt.After(c.CreatedAt)
}
