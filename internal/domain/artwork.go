package domain

import (
	"strings"
	"time"
)

// Artwork is a published piece owned by its author.
type Artwork struct {
	Base

	Title       string `json:"title"`
	Description string `json:"description"`

	// ImageRef is the reference returned by the image store.
	ImageRef string `json:"image_ref"`

	// AuthorID is the bare id of the authoring user.
	AuthorID string `json:"author_id"`

	Tags []string `json:"tags"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Likes is the set of user ids that liked the artwork.
	Likes []string `json:"likes"`

	// Comments is the ordered list of comment ids.
	Comments []string `json:"comments"`

	// Views only ever grows.
	Views int64 `json:"views"`

	// PointsReceived is the sum of all donations.
	PointsReceived int64 `json:"points_received"`

	// Donors is the set of user ids that donated. A user donates at most once.
	Donors []string `json:"donors"`
}

// NewArtwork creates a new Artwork with default values.
func NewArtwork(title, description, imageRef, authorID string, tags []string) *Artwork {
	now := time.Now().UTC()
	return &Artwork{
		Base:        Base{SchemaVersion: CurrentSchemaVersion},
		Title:       strings.TrimSpace(title),
		Description: description,
		ImageRef:    imageRef,
		AuthorID:    NormalizeID(authorID),
		Tags:        normalizeTags(tags),
		CreatedAt:   now,
		UpdatedAt:   now,
		Likes:       []string{},
		Comments:    []string{},
		Donors:      []string{},
	}
}

// ParseTags splits a comma separated tag string.
func ParseTags(raw string) []string {
	return normalizeTags(strings.Split(raw, ","))
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// EntityType implements Entity.
func (a *Artwork) EntityType() string { return TypeArtwork }

// Validate implements Entity.
func (a *Artwork) Validate() error {
	if strings.TrimSpace(a.Title) == "" {
		return NewValidationError("title", "must not be empty")
	}
	if a.PointsReceived < 0 {
		return NewValidationError("points_received", "must not be negative")
	}
	if a.Views < 0 {
		return NewValidationError("views", "must not be negative")
	}
	return nil
}

// EnsureAttributes repairs collections and references of older records.
func (a *Artwork) EnsureAttributes() {
	a.ID = NormalizeID(a.ID)
	a.AuthorID = NormalizeID(a.AuthorID)
	a.Tags = normalizeTags(a.Tags)
	a.Likes = NormalizeIDs(a.Likes)
	a.Comments = NormalizeIDs(a.Comments)
	a.Donors = NormalizeIDs(a.Donors)
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
}

// IsAuthor reports whether userID authored the artwork.
func (a *Artwork) IsAuthor(userID string) bool {
	return SameID(a.AuthorID, userID)
}

// Touch bumps UpdatedAt.
func (a *Artwork) Touch() {
	a.UpdatedAt = time.Now().UTC()
}

// =============================================================================
// Likes, comments, views
// =============================================================================

// AddLike records a like from userID.
func (a *Artwork) AddLike(userID string) bool {
	var added bool
	a.Likes, added = addID(a.Likes, userID)
	return added
}

// RemoveLike removes a like from userID.
func (a *Artwork) RemoveLike(userID string) bool {
	var removed bool
	a.Likes, removed = removeID(a.Likes, userID)
	return removed
}

// ToggleLike flips the like state and returns whether the user now likes it.
func (a *Artwork) ToggleLike(userID string) bool {
	if a.RemoveLike(userID) {
		return false
	}
	return a.AddLike(userID)
}

// HasLiked reports whether userID liked the artwork.
func (a *Artwork) HasLiked(userID string) bool {
	return containsID(a.Likes, userID)
}

// AddComment appends a comment id.
func (a *Artwork) AddComment(commentID string) bool {
	var added bool
	a.Comments, added = addID(a.Comments, commentID)
	return added
}

// RemoveComment removes a comment id.
func (a *Artwork) RemoveComment(commentID string) bool {
	var removed bool
	a.Comments, removed = removeID(a.Comments, commentID)
	return removed
}

// IncrementViews counts one view.
func (a *Artwork) IncrementViews() {
	a.Views++
}

// =============================================================================
// Donations
// =============================================================================

// HasDonated reports whether donorID already donated.
func (a *Artwork) HasDonated(donorID string) bool {
	return containsID(a.Donors, donorID)
}

// AddDonation records a donation. Nothing is mutated on error.
func (a *Artwork) AddDonation(donorID string, points int64) error {
	if points <= 0 {
		return NewValidationError("points", "must be positive")
	}
	if NormalizeID(donorID) == "" {
		return NewValidationError("donor_id", "must be a valid id")
	}
	if a.HasDonated(donorID) {
		return ErrAlreadyDonated
	}
	a.Donors, _ = addID(a.Donors, donorID)
	a.PointsReceived += points
	return nil
}

// RemoveDonation reverts AddDonation.
func (a *Artwork) RemoveDonation(donorID string, points int64) bool {
	var removed bool
	a.Donors, removed = removeID(a.Donors, donorID)
	if !removed {
		return false
	}
	a.PointsReceived -= points
	if a.PointsReceived < 0 {
		a.PointsReceived = 0
	}
	return true
}
