package types

import "time"

// ShareGrant is a time-bounded authorization for a third party to view a set
// of prescriptions. EncodedPrescriptionIDs is stored verbatim and must be
// decoded defensively on every read.
type ShareGrant struct {
	ID                     string    `json:"id"`
	OwnerID                int64     `json:"owner_id"`
	RecipientName          string    `json:"recipient_name"`
	RecipientType          string    `json:"recipient_type"`
	ExpiresAt              time.Time `json:"expires_at"`
	EncodedPrescriptionIDs string    `json:"-"`
	CreatedAt              time.Time `json:"created_at"`
}

// IsActive reports whether the grant has not yet expired at now.
func (g *ShareGrant) IsActive(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// ShareGrantRequest is the input for creating a share grant. ExpiresAt is
// epoch milliseconds.
type ShareGrantRequest struct {
	OwnerID         int64   `json:"owner_id"`
	RecipientName   string  `json:"recipient_name"`
	RecipientType   string  `json:"recipient_type"`
	ExpiresAt       int64   `json:"expires_at"`
	PrescriptionIDs []int64 `json:"prescription_ids"`
}

// ShareGrantSummary is the listing view of an active grant
type ShareGrantSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	ExpiresAt int64  `json:"expiresAt"`
}

// ShareLink is a signed token naming a grant
type ShareLink struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}
