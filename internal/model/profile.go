package model

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the minimal user profile the event router needs to name an actor.
type Profile struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Email       string    `db:"email" json:"email"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Document is an expiring user document referenced by doc-expiry reminders.
type Document struct {
	ID         uuid.UUID `db:"id" json:"id"`
	UserID     uuid.UUID `db:"user_id" json:"user_id"`
	Name       string    `db:"name" json:"name"`
	ExpiryDate time.Time `db:"expiry_date" json:"expiry_date"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
