// Package domain contains the core entities of ArtShare.
// Entities are plain structs with explicit defaults; persistence concerns live
// behind the gateway package.
package domain

import "fmt"

// Entity type names. These are part of the persisted record keys.
const (
	TypeUser        = "user"
	TypeArtwork     = "artwork"
	TypeComment     = "comment"
	TypeMessage     = "message"
	TypeTransaction = "points_transaction"
)

// Entity is implemented by every persisted domain type.
type Entity interface {
	// EntityType returns the type name. It must not dereference the receiver
	// so that it can be called on a typed nil pointer.
	EntityType() string

	// EntityID returns the bare numeric id, or "" before the first save.
	EntityID() string

	// SetEntityID stamps a new identity. The value is normalized.
	SetEntityID(id string)

	// Validate checks entity-level invariants before a save.
	Validate() error
}

// Versioned is implemented by entities carrying a schema version.
type Versioned interface {
	GetSchemaVersion() int
	SetSchemaVersion(v int)
}

// Base carries the identity and schema version shared by all entities.
type Base struct {
	// ID is the bare numeric identifier assigned on first save.
	ID string `json:"id"`

	// SchemaVersion is the entity layout version the record was written with.
	SchemaVersion int `json:"schema_version"`
}

// EntityID returns the bare numeric id.
func (b *Base) EntityID() string { return b.ID }

// SetEntityID stamps a normalized id.
func (b *Base) SetEntityID(id string) { b.ID = NormalizeID(id) }

// GetSchemaVersion returns the schema version.
func (b *Base) GetSchemaVersion() int { return b.SchemaVersion }

// SetSchemaVersion sets the schema version.
func (b *Base) SetSchemaVersion(v int) { b.SchemaVersion = v }

// IsIdentified reports whether the entity has been assigned an id.
func (b *Base) IsIdentified() bool { return NormalizeID(b.ID) != "" }

// EntityTypes returns every registered type name in a stable order.
func EntityTypes() []string {
	return []string{TypeUser, TypeArtwork, TypeComment, TypeMessage, TypeTransaction}
}

// NewEntity returns an empty entity for typeName, ready to be decoded into.
func NewEntity(typeName string) (Entity, error) {
	switch typeName {
	case TypeUser:
		return &User{}, nil
	case TypeArtwork:
		return &Artwork{}, nil
	case TypeComment:
		return &Comment{}, nil
	case TypeMessage:
		return &Message{}, nil
	case TypeTransaction:
		return &PointsTransaction{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrValidation, typeName)
	}
}

// IdentityOf returns the qualified identity of e.
func IdentityOf(e Entity) EntityID {
	return Qualified(e.EntityType(), e.EntityID())
}
