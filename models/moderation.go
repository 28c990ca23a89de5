package models

import (
	"time"
)

// ActionKind identifies a category of moderation action. Each kind has its
// own enforcement backend (see the enforcement package).
type ActionKind string

const (
	KindSuspend  ActionKind = "suspend"
	KindMute     ActionKind = "mute"
	KindRestrict ActionKind = "restrict"
)

func (k ActionKind) String() string {
	return string(k)
}

// Disposition records who ended an action early, and why.
type Disposition struct {
	OperatorID    string    `json:"operatorId"`
	OperatorLabel string    `json:"operatorLabel"`
	Reason        string    `json:"reason"`
	At            time.Time `json:"at"`
}

type ActionStatus string

const (
	StatusActive   ActionStatus = "active"
	StatusRevoked  ActionStatus = "revoked"
	StatusExpunged ActionStatus = "expunged"
	StatusExpired  ActionStatus = "expired"
)

// ModAction is one issued moderation action (a "case").
//
// Core fields are written once at issue time. Active, Removed, Expunged and
// ExpiredAt are the lifecycle fields; rows are never deleted.
type ModAction struct {
	// internal store identifier
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// operator-visible identifier, monotonic across the store
	CaseID int64 `gorm:"uniqueIndex;not null"`

	Kind          ActionKind `gorm:"index:idx_mod_action_kind_target;not null"`
	TargetID      string     `gorm:"index:idx_mod_action_kind_target;not null"`
	TargetLabel   string
	OperatorID    string `gorm:"not null"`
	OperatorLabel string
	Reason        string
	IssuedAt      time.Time `gorm:"not null"`
	// nil means indefinite
	Duration *time.Duration

	Active    bool         `gorm:"index;not null"`
	Removed   *Disposition `gorm:"serializer:json"`
	Expunged  *Disposition `gorm:"serializer:json"`
	ExpiredAt *time.Time

	OriginRef string
}

// ExpiresAt returns the scheduled expiry time, and false for indefinite actions.
func (a *ModAction) ExpiresAt() (time.Time, bool) {
	if a.Duration == nil {
		return time.Time{}, false
	}
	return a.IssuedAt.Add(*a.Duration), true
}

func (a *ModAction) Status() ActionStatus {
	switch {
	case a.Active:
		return StatusActive
	case a.Removed != nil:
		return StatusRevoked
	case a.Expunged != nil:
		return StatusExpunged
	default:
		return StatusExpired
	}
}
