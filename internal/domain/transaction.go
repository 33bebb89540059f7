package domain

import (
	"fmt"
	"time"
)

// TransactionType is the semantic direction of a points movement.
type TransactionType string

const (
	// TransactionGive debits a donor.
	TransactionGive TransactionType = "give"

	// TransactionReceive credits an artwork author.
	TransactionReceive TransactionType = "receive"

	// TransactionWithdraw debits a user towards an external payout.
	TransactionWithdraw TransactionType = "withdraw"

	// TransactionPurchase credits a user from an external payment.
	TransactionPurchase TransactionType = "purchase"
)

// IsValid returns true if the transaction type is known.
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionGive, TransactionReceive, TransactionWithdraw, TransactionPurchase:
		return true
	default:
		return false
	}
}

// IsCredit reports whether the type adds to the user's balance.
func (t TransactionType) IsCredit() bool {
	return t == TransactionReceive || t == TransactionPurchase
}

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// IsValid returns true if the status is known.
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionPending, TransactionCompleted, TransactionFailed, TransactionCancelled:
		return true
	default:
		return false
	}
}

// PointsTransaction is an append-only audit record of a points movement.
type PointsTransaction struct {
	Base

	// UserID is the user whose balance the record describes.
	UserID string `json:"user_id"`

	Type TransactionType `json:"type"`

	// Points is always positive; Type carries the sign.
	Points int64 `json:"points"`

	Description string `json:"description"`

	// ReferenceID optionally points at a related entity (the artwork for donations).
	ReferenceID string `json:"reference_id,omitempty"`

	CreatedAt time.Time         `json:"created_at"`
	Status    TransactionStatus `json:"status"`
}

func newTransaction(userID string, typ TransactionType, points int64, description, referenceID string, status TransactionStatus) *PointsTransaction {
	return &PointsTransaction{
		Base:        Base{SchemaVersion: CurrentSchemaVersion},
		UserID:      NormalizeID(userID),
		Type:        typ,
		Points:      points,
		Description: description,
		ReferenceID: NormalizeID(referenceID),
		CreatedAt:   time.Now().UTC(),
		Status:      status,
	}
}

// NewGiveTransaction records a donation from userID to artworkID.
func NewGiveTransaction(userID, artworkID string, points int64) *PointsTransaction {
	return newTransaction(userID, TransactionGive, points,
		fmt.Sprintf("Donation of %d points", points), artworkID, TransactionCompleted)
}

// NewReceiveTransaction records points received by userID for artworkID.
func NewReceiveTransaction(userID, artworkID string, points int64) *PointsTransaction {
	return newTransaction(userID, TransactionReceive, points,
		fmt.Sprintf("Receipt of %d points", points), artworkID, TransactionCompleted)
}

// NewWithdrawalTransaction records a pending payout request.
func NewWithdrawalTransaction(userID string, points int64, description string) *PointsTransaction {
	return newTransaction(userID, TransactionWithdraw, points, description, "", TransactionPending)
}

// NewPurchaseTransaction records points bought by userID.
func NewPurchaseTransaction(userID string, points int64, description string) *PointsTransaction {
	return newTransaction(userID, TransactionPurchase, points, description, "", TransactionCompleted)
}

// EntityType implements Entity.
func (t *PointsTransaction) EntityType() string { return TypeTransaction }

// Validate implements Entity.
func (t *PointsTransaction) Validate() error {
	if t.Points <= 0 {
		return NewValidationError("points", "must be positive")
	}
	if !t.Type.IsValid() {
		return NewValidationError("type", fmt.Sprintf("unknown type %q", t.Type))
	}
	if !t.Status.IsValid() {
		return NewValidationError("status", fmt.Sprintf("unknown status %q", t.Status))
	}
	if NormalizeID(t.UserID) == "" {
		return NewValidationError("user_id", "must be a valid id")
	}
	return nil
}

// SignedAmount returns Points with the sign implied by Type.
func (t *PointsTransaction) SignedAmount() int64 {
	if t.Type.IsCredit() {
		return t.Points
	}
	return -t.Points
}

// AffectsBalance reports whether the record is reflected in the user's balance.
// Pending withdrawals are debited up front.
func (t *PointsTransaction) AffectsBalance() bool {
	return t.Status == TransactionCompleted || t.Status == TransactionPending
}

// Complete settles a pending transaction.
func (t *PointsTransaction) Complete() error { return t.transition(TransactionCompleted) }

// Fail marks a pending transaction as failed.
func (t *PointsTransaction) Fail() error { return t.transition(TransactionFailed) }

// Cancel marks a pending transaction as cancelled.
func (t *PointsTransaction) Cancel() error { return t.transition(TransactionCancelled) }

func (t *PointsTransaction) transition(to TransactionStatus) error {
	if t.Status != TransactionPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	return nil
}
