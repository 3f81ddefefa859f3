package models

import "time"

// Grant states. A grant is created pending and either becomes approved or
// is deleted. There is no revoked state: removing the record is the
// revocation, so a missing grant means access was denied or withdrawn.
const (
	GrantStatePending  = "pending"
	GrantStateApproved = "approved"
)

// DeviceGrant is the ledger entry for one device access attempt against
// an owner's vault.
type DeviceGrant struct {
	GrantID     string    `json:"grant_id"`
	OwnerID     string    `json:"owner_id"`
	RequesterID string    `json:"requester_id"`
	Device      string    `json:"device"`
	Origin      string    `json:"origin,omitempty"`
	State       string    `json:"state"`
	RequestedAt time.Time `json:"requested_at"`
	ApprovedAt  time.Time `json:"approved_at,omitempty"`
	ApprovedBy  string    `json:"approved_by,omitempty"`

	// ScopeOverride is a copy of the owner's shared folder selection,
	// refreshed when the owner changes it. Display and audit only: the
	// projection always reads the live selection, so this list can lag
	// without widening access.
	ScopeOverride []string `json:"scope_override,omitempty"`
}

// IsApproved reports whether the grant has been approved by the owner.
func (g *DeviceGrant) IsApproved() bool {
	return g.State == GrantStateApproved
}

// GrantStatus is the requester-facing view of a grant, returned by the
// status poll. It never exposes owner account detail beyond the email the
// requester already supplied.
type GrantStatus struct {
	GrantID     string    `json:"grant_id"`
	State       string    `json:"state"`
	OwnerEmail  string    `json:"owner_email"`
	RequestedAt time.Time `json:"requested_at"`
	ApprovedAt  time.Time `json:"approved_at,omitempty"`
}
