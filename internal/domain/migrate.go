package domain

// CurrentSchemaVersion is the entity layout written by this build.
//
// Version history:
//
//	0: records written before versioning; collections may be null and
//	   referenced ids may be qualified ("user@3").
//	1: every collection present, every referenced id bare, transactions
//	   always carry a status.
const CurrentSchemaVersion = 1

// Upgrade migrates e to CurrentSchemaVersion in place.
// It returns true if the entity changed and should be written back.
func Upgrade(e Entity) bool {
	v, ok := e.(Versioned)
	if !ok || v.GetSchemaVersion() >= CurrentSchemaVersion {
		return false
	}

	if v.GetSchemaVersion() < 1 {
		upgradeToV1(e)
	}

	v.SetSchemaVersion(CurrentSchemaVersion)
	return true
}

func upgradeToV1(e Entity) {
	switch x := e.(type) {
	case *User:
		x.EnsureAttributes()
	case *Artwork:
		x.EnsureAttributes()
	case *Comment:
		x.ID = NormalizeID(x.ID)
		x.AuthorID = NormalizeID(x.AuthorID)
		x.ArtworkID = NormalizeID(x.ArtworkID)
		if x.UpdatedAt.IsZero() {
			x.UpdatedAt = x.CreatedAt
		}
	case *Message:
		x.ID = NormalizeID(x.ID)
		x.SenderID = NormalizeID(x.SenderID)
		x.ReceiverID = NormalizeID(x.ReceiverID)
	case *PointsTransaction:
		x.ID = NormalizeID(x.ID)
		x.UserID = NormalizeID(x.UserID)
		x.ReferenceID = NormalizeID(x.ReferenceID)
		if x.Type == "withdrawal" {
			x.Type = TransactionWithdraw
		}
		if x.Status == "" {
			x.Status = TransactionCompleted
		}
	}
}
