package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates a collaborating service (gig-CRUD, payments) on the
// internal routes. Only the SHA-256 hash of the key is stored.
type APIKey struct {
	ID          uuid.UUID `json:"id"`
	ServiceName string    `json:"service_name"`
	KeyHash     string    `json:"-"`
	KeyPrefix   string    `json:"key_prefix"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}
