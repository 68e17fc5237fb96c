package domain

import "time"

// Variant is a sellable unit of a product. The ledger owns its OnHand
// counter and nothing else; identity and catalog attributes belong to the
// catalog service.
type Variant struct {
	ID             string
	SKU            string
	OnHand         int
	TrackInventory bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FloorViolated reports whether applying delta would drive a tracked
// variant's on-hand count negative. Untracked variants carry an
// informational counter only and never violate the floor.
func (v Variant) FloorViolated(delta int) bool {
	return v.TrackInventory && v.OnHand+delta < 0
}
